package queue_test

import (
	"context"
	"time"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/memory"
	. "github.com/perdure/perdure/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Queue", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		queue     *Queue
	)

	newItem := func(id string, delay time.Duration) persistence.QueueItem {
		return persistence.QueueItem{
			NextAttemptAt: time.Now().Add(delay),
			Token: continuation.Token{
				TrackingID: id,
				Handler:    "<handler>",
				State:      "<state>",
			},
		}
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		provider := &memory.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		queue = &Queue{
			DataStore: dataStore,
		}
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func Pop()", func() {
		When("the queue is empty", func() {
			It("blocks until an item is pushed", func() {
				go func() {
					defer GinkgoRecover()
					time.Sleep(20 * time.Millisecond)
					err := queue.Push(ctx, newItem("<id>", 0))
					Expect(err).ShouldNot(HaveOccurred())
				}()

				m, err := queue.Pop(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				defer m.Close()

				Expect(m.ID()).To(Equal("<id>"))
			})

			It("returns an error if the context deadline is exceeded", func() {
				ctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
				defer cancel()

				m, err := queue.Pop(ctx)
				if m != nil {
					m.Close()
				}
				Expect(err).To(Equal(context.DeadlineExceeded))
			})
		})

		When("the queue is not empty", func() {
			It("returns the item with the earliest next-attempt time first", func() {
				err := queue.Push(ctx, newItem("<later>", 10*time.Millisecond))
				Expect(err).ShouldNot(HaveOccurred())

				err = queue.Push(ctx, newItem("<sooner>", 0))
				Expect(err).ShouldNot(HaveOccurred())

				m, err := queue.Pop(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				defer m.Close()

				Expect(m.ID()).To(Equal("<sooner>"))
			})

			It("does not deliver an item before its next-attempt time", func() {
				err := queue.Push(ctx, newItem("<id>", 80*time.Millisecond))
				Expect(err).ShouldNot(HaveOccurred())

				start := time.Now()
				m, err := queue.Pop(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				defer m.Close()

				Expect(time.Since(start)).To(BeNumerically(">=", 70*time.Millisecond))
			})

			It("loads items that were persisted by other workers", func() {
				i := newItem("<id>", 0)
				err := dataStore.Persist(
					ctx,
					persistence.Batch{
						persistence.SaveQueueItem{Item: i},
					},
				)
				Expect(err).ShouldNot(HaveOccurred())

				m, err := queue.Pop(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				defer m.Close()

				Expect(m.ID()).To(Equal("<id>"))
			})

			It("does not deliver the same item to two consumers", func() {
				err := queue.Push(ctx, newItem("<id>", 0))
				Expect(err).ShouldNot(HaveOccurred())

				m, err := queue.Pop(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				defer m.Close()

				ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()

				other, err := queue.Pop(ctx)
				if other != nil {
					other.Close()
				}
				Expect(err).To(Equal(context.DeadlineExceeded))
			})
		})
	})

	Describe("func Track()", func() {
		It("exposes an item that was persisted as part of a larger batch", func() {
			i := newItem("<id>", 0)
			err := dataStore.Persist(
				ctx,
				persistence.Batch{
					persistence.SaveContinuationToken{Token: i.Token},
					persistence.SaveQueueItem{Item: i},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			i.Revision++
			queue.Track(i)

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			Expect(m.ID()).To(Equal("<id>"))
		})
	})
})

var _ = Describe("type Message", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		queue     *Queue
	)

	push := func(id string) {
		err := queue.Push(
			ctx,
			persistence.QueueItem{
				NextAttemptAt: time.Now(),
				Token: continuation.Token{
					TrackingID: id,
					Handler:    "<handler>",
				},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		provider := &memory.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		queue = &Queue{
			DataStore: dataStore,
		}
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func Ack()", func() {
		It("removes the item from the store", func() {
			push("<id>")

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			err = m.Ack(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			items, err := dataStore.LoadQueueItems(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(items).To(BeEmpty())
		})

		It("persists the given batch atomically with the removal", func() {
			push("<id>")

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			err = m.Ack(
				ctx,
				persistence.Batch{
					persistence.SaveResourceRecord{
						Record: persistence.ResourceRecord{ID: "<resource>"},
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			_, ok, err := dataStore.LoadResourceRecord(ctx, "<resource>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("func Nack()", func() {
		It("redelivers the message with an incremented failure count", func() {
			push("<id>")

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(m.FailureCount()).To(BeEquivalentTo(0))

			err = m.Nack(ctx, time.Now())
			Expect(err).ShouldNot(HaveOccurred())

			m, err = queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			Expect(m.ID()).To(Equal("<id>"))
			Expect(m.FailureCount()).To(BeEquivalentTo(1))
		})
	})

	Describe("func Defer()", func() {
		It("replaces the item and redelivers it at its new next-attempt time", func() {
			push("<id>")

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			i := m.Item()
			i.NextAttemptAt = time.Now().Add(10 * time.Millisecond)
			i.Token.State = "<next-state>"

			err = m.Defer(ctx, i, nil)
			Expect(err).ShouldNot(HaveOccurred())

			m, err = queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			Expect(m.Token().State).To(BeEquivalentTo("<next-state>"))
		})
	})

	Describe("func Close()", func() {
		It("redelivers a message that was neither acknowledged nor rejected", func() {
			push("<id>")

			m, err := queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			m.Close()

			m, err = queue.Pop(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			defer m.Close()

			Expect(m.ID()).To(Equal("<id>"))
		})
	})
})
