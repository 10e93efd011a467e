package perdure_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger/backoff"
	. "github.com/perdure/perdure"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence/provider/memory"
	"github.com/perdure/perdure/scheduler"
	"github.com/perdure/perdure/scheduler/shard"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type enginePayload struct {
	Value string
}

var _ = Describe("type Engine", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		machine *handler.Machine
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		machine = &handler.Machine{
			Name:       "<machine>",
			Initial:    "first",
			Steps:      map[continuation.StateName]handler.StepFunc{},
			MaxRetries: 3,
			PayloadTypes: []interface{}{
				enginePayload{},
			},
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func New()", func() {
		It("causes a panic when no machines are configured", func() {
			Expect(func() {
				New()
			}).To(PanicWith("no machines configured, see perdure.WithMachine()"))
		})
	})

	Describe("func Execute()", func() {
		It("returns an error if the context is canceled before the engine runs", func() {
			engine := New(
				WithMachine(machine),
				WithPersistence(&memory.Provider{}),
			)

			ctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := engine.Execute(
				ctx,
				continuation.Input{
					Handler: "<machine>",
				},
			)
			Expect(err).To(Equal(context.Canceled))
		})

		It("drives a multi-step operation to completion", func() {
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				return continuation.InProgress(
					"second",
					enginePayload{Value: "<value>"},
				), nil
			}

			done := make(chan enginePayload, 1)
			machine.Steps["second"] = func(
				_ context.Context,
				req handler.Request,
			) (continuation.Result, error) {
				done <- req.Payload.(enginePayload)
				return continuation.Succeeded(), nil
			}

			engine := New(
				WithMachine(machine),
				WithPersistence(&memory.Provider{}),
				WithMessageBackoff(backoff.Constant(time.Millisecond)),
			)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			result := make(chan error, 1)
			go func() {
				result <- engine.Run(ctx)
			}()

			res, err := engine.Execute(
				ctx,
				continuation.Input{
					Handler: "<machine>",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateInProgress))

			select {
			case p := <-done:
				Expect(p).To(Equal(enginePayload{Value: "<value>"}))
			case <-ctx.Done():
				Fail("timed out waiting for the second step")
			}

			cancel()
			Expect(<-result).To(Equal(context.Canceled))
		})
	})

	Describe("func Run()", func() {
		It("fires registered jobs", func() {
			// Jobs fan out with a per-shard payload, so the handling
			// machine must register it.
			machine.PayloadTypes = append(machine.PayloadTypes, shard.Payload{})

			var count int32
			machine.Steps["first"] = func(
				context.Context,
				handler.Request,
			) (continuation.Result, error) {
				atomic.AddInt32(&count, 1)
				return continuation.Succeeded(), nil
			}

			engine := New(
				WithMachine(machine),
				WithJob(scheduler.Job{
					Name:    "<job>",
					Spec:    "@every 1s",
					Handler: "<machine>",
				}),
				WithPersistence(&memory.Provider{}),
			)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			result := make(chan error, 1)
			go func() {
				result <- engine.Run(ctx)
			}()

			// One firing dispatches one continuation per shard.
			Eventually(func() int32 {
				return atomic.LoadInt32(&count)
			}, "3s").Should(BeNumerically(">=", 16))

			cancel()
			Expect(<-result).To(Equal(context.Canceled))
		})
	})
})
