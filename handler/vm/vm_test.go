package vm_test

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	"github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/cloud"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/fixtures"
	"github.com/perdure/perdure/handler"
	. "github.com/perdure/perdure/handler/vm"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/memory"
	"github.com/perdure/perdure/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Machines", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		client    *fixtures.VirtualMachineClientStub
		machines  *Machines
		act       *activator.Activator
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		provider := &memory.Provider{}

		var err error
		dataStore, err = provider.Open(ctx, "<app-key>")
		Expect(err).ShouldNot(HaveOccurred())

		client = &fixtures.VirtualMachineClientStub{}
		machines = &Machines{
			Client:         client,
			DataStore:      dataStore,
			SubscriptionID: "<subscription>",
			ResourceGroup:  "<group>",
		}

		create := machines.NewCreateMachine()
		del := machines.NewDeleteMachine()

		var types []reflect.Type
		seen := map[reflect.Type]struct{}{}
		for _, m := range []*handler.Machine{create, del} {
			for _, v := range m.PayloadTypes {
				t := reflect.TypeOf(v)
				if _, ok := seen[t]; ok {
					continue
				}

				seen[t] = struct{}{}
				types = append(types, t)
			}
		}

		marshaler, err := codec.NewMarshaler(
			types,
			[]codec.Codec{
				&json.Codec{},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		act = &activator.Activator{
			Router:    handler.NewRouter(create, del),
			DataStore: dataStore,
			Queue: &queue.Queue{
				DataStore: dataStore,
			},
			Packer: &continuation.Packer{
				Marshaler: marshaler,
			},
			Backoff: backoff.Constant(time.Millisecond),
		}
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	Describe("func NewCreateMachine()", func() {
		run := func() continuation.Result {
			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler:    CreateHandler,
					TrackingID: "<id>",
					Payload: CreateRequest{
						SkuName:  "<sku>",
						Location: "<location>",
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			return res
		}

		It("derives the machine's provider name from the tracking ID", func() {
			var name string
			client.BeginCreateFunc = func(
				_ context.Context,
				res cloud.ResourceInfo,
				_ cloud.ProvisionSpec,
			) (string, error) {
				name = res.Name
				Expect(res.SubscriptionID).To(Equal("<subscription>"))
				Expect(res.ResourceGroup).To(Equal("<group>"))
				return "<handle>", nil
			}

			res := run()
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(name).To(Equal("vm-<id>"))
		})

		It("adds an unassigned pool record once the machine is up", func() {
			res := run()
			Expect(res.Status).To(Equal(continuation.StateSucceeded))

			rec, ok, err := dataStore.LoadResourceRecord(ctx, "vm-<id>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.SkuName).To(Equal("<sku>"))
			Expect(rec.Type).To(Equal(persistence.ResourceTypeCompute))
			Expect(rec.Location).To(Equal("<location>"))
			Expect(rec.IsAssigned).To(BeFalse())
		})

		It("tolerates a pool record persisted by a duplicate delivery", func() {
			err := dataStore.Persist(
				ctx,
				persistence.Batch{
					persistence.SaveResourceRecord{
						Record: persistence.ResourceRecord{
							ID:       "vm-<id>",
							SkuName:  "<sku>",
							Type:     persistence.ResourceTypeCompute,
							Location: "<location>",
							Created:  time.Now(),
						},
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			res := run()
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
		})

		It("fails the operation when the provider reports a failure", func() {
			client.CheckCreateFunc = func(
				context.Context,
				cloud.ResourceInfo,
				string,
			) (cloud.OperationStatus, error) {
				return cloud.StatusFailed, nil
			}

			res := run()
			Expect(res.Status).To(Equal(continuation.StateFailed))
		})
	})

	Describe("func NewDeleteMachine()", func() {
		run := func() continuation.Result {
			res, err := act.ExecuteSync(
				ctx,
				continuation.Input{
					Handler: DeleteHandler,
					Payload: DeleteRequest{
						Resource: machines.ResourceInfo("<vm>"),
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			return res
		}

		It("deletes the machine", func() {
			polls := 0
			client.CheckDeleteFunc = func(
				context.Context,
				cloud.ResourceInfo,
				string,
			) (cloud.OperationStatus, error) {
				polls++
				if polls == 1 {
					return cloud.StatusInProgress, nil
				}

				return cloud.StatusSucceeded, nil
			}

			res := run()
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
			Expect(polls).To(Equal(2))
		})

		It("treats an already-deleted machine as success", func() {
			client.BeginDeleteFunc = func(
				context.Context,
				cloud.ResourceInfo,
			) (string, error) {
				return "", fmt.Errorf("delete machine: %w", cloud.ErrNotFound)
			}

			res := run()
			Expect(res.Status).To(Equal(continuation.StateSucceeded))
		})
	})
})
