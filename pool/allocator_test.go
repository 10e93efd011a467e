package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perdure/perdure/fixtures"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/memory"
	. "github.com/perdure/perdure/pool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Allocator", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore *fixtures.DataStoreStub
		allocator *Allocator
	)

	save := func(rec persistence.ResourceRecord) {
		err := dataStore.Persist(
			ctx,
			persistence.Batch{
				persistence.SaveResourceRecord{Record: rec},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		provider := &memory.Provider{}

		ds, err := provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		dataStore = fixtures.NewDataStoreStub(ds)

		allocator = &Allocator{
			DataStore: dataStore,
		}
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func Acquire()", func() {
		It("assigns the oldest matching unassigned resource", func() {
			now := time.Now()

			assigned := persistence.ResourceRecord{
				ID:         "<assigned>",
				SkuName:    "<sku>",
				Type:       persistence.ResourceTypeCompute,
				Location:   "<location>",
				IsAssigned: true,
				Created:    now.Add(-time.Hour),
			}
			save(assigned)

			unassigned := persistence.ResourceRecord{
				ID:       "<unassigned>",
				SkuName:  "<sku>",
				Type:     persistence.ResourceTypeCompute,
				Location: "<location>",
				Created:  now,
			}
			save(unassigned)

			rec, err := allocator.Acquire(
				ctx,
				"<sku>",
				persistence.ResourceTypeCompute,
				"<location>",
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.ID).To(Equal("<unassigned>"))
			Expect(rec.IsAssigned).To(BeTrue())

			rec, ok, err := dataStore.LoadResourceRecord(ctx, "<unassigned>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.IsAssigned).To(BeTrue())
		})

		It("returns ErrNoneAvailable when every matching resource is assigned", func() {
			save(persistence.ResourceRecord{
				ID:         "<assigned>",
				SkuName:    "<sku>",
				Type:       persistence.ResourceTypeCompute,
				Location:   "<location>",
				IsAssigned: true,
				Created:    time.Now(),
			})

			_, err := allocator.Acquire(
				ctx,
				"<sku>",
				persistence.ResourceTypeCompute,
				"<location>",
			)
			Expect(err).To(Equal(ErrNoneAvailable))
		})

		It("assigns a resource to at most one concurrent caller", func() {
			save(persistence.ResourceRecord{
				ID:       "<id>",
				SkuName:  "<sku>",
				Type:     persistence.ResourceTypeCompute,
				Location: "<location>",
				Created:  time.Now(),
			})

			const callers = 32
			results := make(chan error, callers)

			var wg sync.WaitGroup
			for n := 0; n < callers; n++ {
				wg.Add(1)
				go func() {
					defer wg.Done()

					_, err := allocator.Acquire(
						ctx,
						"<sku>",
						persistence.ResourceTypeCompute,
						"<location>",
					)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			var wins, misses int
			for err := range results {
				if err == nil {
					wins++
					continue
				}

				Expect(err).To(Equal(ErrNoneAvailable))
				misses++
			}

			Expect(wins).To(Equal(1))
			Expect(misses).To(Equal(callers - 1))

			rec, ok, err := dataStore.LoadResourceRecord(ctx, "<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.IsAssigned).To(BeTrue())
		})

		It("moves on to the next candidate after losing an assignment race", func() {
			save(persistence.ResourceRecord{
				ID:       "<id>",
				SkuName:  "<sku>",
				Type:     persistence.ResourceTypeCompute,
				Location: "<location>",
				Created:  time.Now(),
			})

			var persists int32
			dataStore.PersistFunc = func(
				ctx context.Context,
				b persistence.Batch,
			) error {
				if atomic.AddInt32(&persists, 1) == 1 {
					return persistence.ConflictError{Cause: b[0]}
				}

				return dataStore.DataStore.Persist(ctx, b)
			}

			rec, err := allocator.Acquire(
				ctx,
				"<sku>",
				persistence.ResourceTypeCompute,
				"<location>",
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.ID).To(Equal("<id>"))
			Expect(atomic.LoadInt32(&persists)).To(BeEquivalentTo(2))
		})
	})
})
