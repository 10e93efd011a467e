package activator_test

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	. "github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/memory"
	"github.com/perdure/perdure/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stepPayload struct {
	Value string
}

func newMarshaler() marshalkit.ValueMarshaler {
	m, err := codec.NewMarshaler(
		[]reflect.Type{
			reflect.TypeOf(stepPayload{}),
		},
		[]codec.Codec{
			&json.Codec{},
		},
	)
	Expect(err).ShouldNot(HaveOccurred())

	return m
}

var _ = Describe("type Activator", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		dispatch  *queue.Queue
		machine   *handler.Machine
		packer    *continuation.Packer
		act       *Activator
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		provider := &memory.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		dispatch = &queue.Queue{
			DataStore: dataStore,
		}

		machine = &handler.Machine{
			Name:       "<machine>",
			Initial:    "first",
			Steps:      map[continuation.StateName]handler.StepFunc{},
			MaxRetries: 2,
		}

		packer = &continuation.Packer{
			Marshaler: newMarshaler(),
		}

		act = &Activator{
			Router:    handler.NewRouter(machine),
			DataStore: dataStore,
			Queue:     dispatch,
			Packer:    packer,
			Backoff:   backoff.Constant(5 * time.Millisecond),
		}
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func Execute()", func() {
		It("returns the result of a terminal first step without persisting anything", func() {
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.Succeeded(), nil
			}

			res, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))

			_, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			items, err := dataStore.LoadQueueItems(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(items).To(BeEmpty())
		})

		It("persists a token and a queue item when the operation remains in progress", func() {
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.InProgress("second", stepPayload{Value: "<value>"}), nil
			}

			res, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateInProgress))
			Expect(res.NextState).To(BeEquivalentTo("second"))

			t, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(t.State).To(BeEquivalentTo("second"))
			Expect(t.StepCount).To(BeEquivalentTo(1))

			m, err := dispatch.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			Expect(m.ID()).To(Equal("<id>"))
		})

		It("generates a tracking ID when the input does not carry one", func() {
			packer.GenerateID = func() string {
				return "<generated>"
			}

			var seen string
			machine.Steps["first"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				seen = req.TrackingID
				return continuation.Succeeded(), nil
			}

			_, err := act.Execute(
				ctx,
				continuation.Input{
					Handler: "<machine>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(seen).To(Equal("<generated>"))
		})

		It("returns an error when the input targets an unregistered machine", func() {
			_, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<unknown>",
					TrackingID: "<id>",
				},
			)
			Expect(err).To(MatchError(
				handler.UnknownHandlerError{Handler: "<unknown>"},
			))
		})

		It("fails the operation when it exceeds its wall-clock budget", func() {
			packer.Now = func() time.Time {
				return time.Now().Add(-2 * time.Hour)
			}

			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				Fail("step executed unexpectedly")
				return continuation.Result{}, nil
			}

			res, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))
			Expect(res.Reason).To(Equal("operation timed out"))
		})

		It("honors a machine-level timeout override", func() {
			machine.Timeout = 10 * time.Hour

			packer.Now = func() time.Time {
				return time.Now().Add(-2 * time.Hour)
			}

			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.Succeeded(), nil
			}

			res, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
		})
	})

	Describe("func ExecuteSync()", func() {
		It("runs the operation to completion", func() {
			var states []continuation.StateName

			machine.Steps["first"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				states = append(states, req.State)
				return continuation.InProgress("second", stepPayload{Value: "<value>"}), nil
			}

			machine.Steps["second"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				states = append(states, req.State)
				Expect(req.Payload).To(Equal(stepPayload{Value: "<value>"}))
				return continuation.Succeeded(), nil
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(states).To(Equal(
				[]continuation.StateName{"first", "second"},
			))
		})

		It("retries a transiently-failing state until its budget is exhausted", func() {
			count := 0
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				count++
				return continuation.Result{}, handler.Transient(errors.New("<error>"))
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))
			Expect(res.Reason).To(ContainSubstring("retry budget"))

			// MaxRetries of 2 allows the initial attempt plus two retries.
			Expect(count).To(Equal(3))
		})

		It("counts same-state polling against the retry budget", func() {
			count := 0
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				count++
				return continuation.Wait("first", nil, time.Millisecond), nil
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))
			Expect(count).To(Equal(3))
		})

		It("consults the machine's backoff strategy with the attempt number", func() {
			var attempts []uint
			machine.Backoff = func(_ error, n uint) time.Duration {
				attempts = append(attempts, n)
				return time.Millisecond
			}

			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.Result{}, handler.Transient(errors.New("<error>"))
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))

			// The attempt that exhausts the budget is not delayed.
			Expect(attempts).To(Equal([]uint{1, 2}))
		})

		It("consults the activator's backoff strategy when polling a state without an explicit delay", func() {
			var attempts []uint
			act.Backoff = func(_ error, n uint) time.Duration {
				attempts = append(attempts, n)
				return time.Millisecond
			}

			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.InProgress("first", nil), nil
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))
			Expect(attempts).To(Equal([]uint{1, 2}))
		})

		It("resets the retry counter when the machine advances", func() {
			var attempts []uint

			machine.Steps["first"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				attempts = append(attempts, req.RetryAttempt)

				if req.RetryAttempt < 1 {
					return continuation.Result{}, handler.Transient(errors.New("<error>"))
				}

				return continuation.InProgress("second", nil), nil
			}

			machine.Steps["second"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				attempts = append(attempts, req.RetryAttempt)
				return continuation.Succeeded(), nil
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(attempts).To(Equal([]uint{0, 1, 0}))
		})

		It("fails the operation immediately on a non-transient error", func() {
			count := 0
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				count++
				return continuation.Result{}, handler.ValidationError{Reason: "<reason>"}
			}

			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))
			Expect(res.Reason).To(ContainSubstring("<reason>"))
			Expect(count).To(Equal(1))
		})
	})

	Describe("func Resume()", func() {
		suspend := func() *queue.Message {
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.InProgress("second", nil), nil
			}

			_, err := act.Execute(
				ctx,
				continuation.Input{
					Handler:    "<machine>",
					TrackingID: "<id>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			m, err := dispatch.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			return m
		}

		It("executes the next step and removes the token on completion", func() {
			m := suspend()
			defer m.Close()

			machine.Steps["second"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.Succeeded(), nil
			}

			res, err := act.Resume(ctx, m)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))

			_, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			items, err := dataStore.LoadQueueItems(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(items).To(BeEmpty())
		})

		It("suspends again when the operation remains in progress", func() {
			m := suspend()
			defer m.Close()

			machine.Steps["second"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.InProgress("third", nil), nil
			}

			res, err := act.Resume(ctx, m)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateInProgress))

			t, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(t.State).To(BeEquivalentTo("third"))
			Expect(t.StepCount).To(BeEquivalentTo(2))

			redelivered, err := dispatch.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer redelivered.Close()

			Expect(redelivered.ID()).To(Equal("<id>"))
		})

		It("drops a stale message without executing anything", func() {
			m := suspend()
			defer m.Close()

			t, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			err = dataStore.Persist(
				ctx,
				persistence.Batch{
					persistence.RemoveContinuationToken{Token: t},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			machine.Steps["second"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				Fail("step executed unexpectedly")
				return continuation.Result{}, nil
			}

			_, err = act.Resume(ctx, m)
			Expect(err).ShouldNot(HaveOccurred())

			items, err := dataStore.LoadQueueItems(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(items).To(BeEmpty())
		})

		It("abandons the operation when its handler is no longer registered", func() {
			m := suspend()
			defer m.Close()

			orphaned := &Activator{
				Router:    handler.Router{},
				DataStore: dataStore,
				Queue:     dispatch,
				Packer:    packer,
			}

			res, err := orphaned.Resume(ctx, m)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateFailed))

			_, ok, err := dataStore.LoadContinuationToken(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			items, err := dataStore.LoadQueueItems(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})
})
