package pool_test

import (
	"context"
	"time"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/fixtures"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/memory"
	. "github.com/perdure/perdure/pool"
	"github.com/perdure/perdure/scheduler/shard"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Refresher", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		executor  *fixtures.ExecutorStub
		refresher *Refresher
		topUp     handler.StepFunc
	)

	definition := Definition{
		SkuName:    "<sku>",
		Type:       persistence.ResourceTypeCompute,
		Location:   "<location>",
		TargetSize: 3,
	}

	// The shard a definition hashes to, matching the refresher's own
	// fan-out arithmetic.
	definitionShard := shard.ForKey(
		definition.SkuName + "/" + string(definition.Type) + "/" + definition.Location,
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		provider := &memory.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		executor = &fixtures.ExecutorStub{}

		refresher = &Refresher{
			DataStore: dataStore,
			Broker: &Broker{
				Allocator: &Allocator{
					DataStore: dataStore,
				},
				Executor: executor,
				Provisioners: map[persistence.ResourceType]Provisioner{
					persistence.ResourceTypeCompute: {
						CreateHandler: "<create>",
						NewCreatePayload: func(sku, location string) interface{} {
							return createPayload{SkuName: sku, Location: location}
						},
					},
				},
			},
			Definitions: []Definition{definition},
		}

		m := refresher.NewMachine()

		var ok bool
		topUp, ok = m.Step(m.Initial)
		Expect(ok).To(BeTrue())
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func NewMachine()", func() {
		It("provisions one resource per missing pool slot", func() {
			err := dataStore.Persist(
				ctx,
				persistence.Batch{
					persistence.SaveResourceRecord{
						Record: persistence.ResourceRecord{
							ID:       "<existing>",
							SkuName:  "<sku>",
							Type:     persistence.ResourceTypeCompute,
							Location: "<location>",
							Created:  time.Now(),
						},
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			res, err := topUp(ctx, handler.Request{
				Payload: shard.Payload{Shard: definitionShard},
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))

			inputs := executor.Inputs()
			Expect(inputs).To(HaveLen(2))
			for _, in := range inputs {
				Expect(in.Handler).To(Equal("<create>"))
			}
		})

		It("does not provision when the pool is at its target size", func() {
			for _, id := range []string{"<a>", "<b>", "<c>"} {
				err := dataStore.Persist(
					ctx,
					persistence.Batch{
						persistence.SaveResourceRecord{
							Record: persistence.ResourceRecord{
								ID:       id,
								SkuName:  "<sku>",
								Type:     persistence.ResourceTypeCompute,
								Location: "<location>",
								Created:  time.Now(),
							},
						},
					},
				)
				Expect(err).ShouldNot(HaveOccurred())
			}

			res, err := topUp(ctx, handler.Request{
				Payload: shard.Payload{Shard: definitionShard},
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(executor.Inputs()).To(BeEmpty())
		})

		It("skips definitions that hash to other shards", func() {
			var other string
			for _, s := range shard.All() {
				if s != definitionShard {
					other = s
					break
				}
			}

			res, err := topUp(ctx, handler.Request{
				Payload: shard.Payload{Shard: other},
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(executor.Inputs()).To(BeEmpty())
		})

		It("rejects an unexpected payload type", func() {
			_, err := topUp(ctx, handler.Request{
				Payload: "<garbage>",
			})
			Expect(handler.IsValidation(err)).To(BeTrue())
		})
	})
})
