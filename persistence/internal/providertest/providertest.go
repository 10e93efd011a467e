// Package providertest declares behavioral tests that every persistence
// provider implementation must pass.
package providertest

import (
	"context"
	"time"

	"github.com/dogmatiq/marshalkit"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Declare declares behavioral tests for a persistence provider.
//
// The before function constructs the provider under test. The close
// function it returns, if non-nil, tears the provider down after each
// test.
func Declare(
	before func() (persistence.Provider, func()),
) {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		provider  persistence.Provider
		teardown  func()
		dataStore persistence.DataStore
	)

	ginkgo.Context("standard provider test suite", func() {
		ginkgo.BeforeEach(func() {
			ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

			provider, teardown = before()

			var err error
			dataStore, err = provider.Open(ctx, "<app-key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		})

		ginkgo.AfterEach(func() {
			dataStore.Close()

			if teardown != nil {
				teardown()
			}

			cancel()
		})

		ginkgo.Describe("func Open()", func() {
			ginkgo.It("returns a store that shares data with other stores opened under the same key", func() {
				other, err := provider.Open(ctx, "<app-key>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				defer other.Close()

				persist(ctx, dataStore, persistence.SaveResourceRecord{
					Record: persistence.ResourceRecord{ID: "<resource>"},
				})

				_, ok, err := other.LoadResourceRecord(ctx, "<resource>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
			})
		})

		declareTokenTests(&ctx, &dataStore)
		declareQueueTests(&ctx, &dataStore)
		declareResourceTests(&ctx, &dataStore)
		declareClaimTests(&ctx, &dataStore)
		declareAtomicityTests(&ctx, &dataStore)
	})
}

// persist commits a batch of operations, failing the test on error.
func persist(
	ctx context.Context,
	ds persistence.DataStore,
	ops ...persistence.Operation,
) {
	ginkgo.GinkgoHelper()

	err := ds.Persist(ctx, persistence.Batch(ops))
	gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
}

func declareTokenTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("continuation tokens", func() {
		newToken := func() continuation.Token {
			return continuation.Token{
				TrackingID: "<id>",
				Handler:    "<handler>",
				State:      "<state>",
				Payload: marshalkit.Packet{
					MediaType: "application/json; type=Payload",
					Data:      []byte(`{"Value":"<value>"}`),
				},
				RetryAttempt: 1,
				StepCount:    3,
				CreatedAt:    time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
				Properties: map[string]string{
					"<key>": "<value>",
				},
			}
		}

		ginkgo.It("round-trips a saved token", func() {
			persist(*ctx, *dataStore, persistence.SaveContinuationToken{
				Token: newToken(),
			})

			t, ok, err := (*dataStore).LoadContinuationToken(*ctx, "<id>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			gomega.Expect(t.Handler).To(gomega.Equal("<handler>"))
			gomega.Expect(t.State).To(gomega.BeEquivalentTo("<state>"))
			gomega.Expect(t.Payload.Data).To(gomega.MatchJSON(`{"Value":"<value>"}`))
			gomega.Expect(t.RetryAttempt).To(gomega.BeEquivalentTo(1))
			gomega.Expect(t.StepCount).To(gomega.BeEquivalentTo(3))
			gomega.Expect(t.CreatedAt).To(gomega.BeTemporally("==", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)))
			gomega.Expect(t.Properties).To(gomega.Equal(map[string]string{"<key>": "<value>"}))
		})

		ginkgo.It("increments the revision on each save", func() {
			t := newToken()
			persist(*ctx, *dataStore, persistence.SaveContinuationToken{Token: t})

			t.Revision++
			persist(*ctx, *dataStore, persistence.SaveContinuationToken{Token: t})

			t, ok, err := (*dataStore).LoadContinuationToken(*ctx, "<id>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(t.Revision).To(gomega.BeEquivalentTo(2))
		})

		ginkgo.It("rejects a save with a stale revision", func() {
			persist(*ctx, *dataStore, persistence.SaveContinuationToken{
				Token: newToken(),
			})

			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.SaveContinuationToken{Token: newToken()},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
		})

		ginkgo.It("removes a token", func() {
			t := newToken()
			persist(*ctx, *dataStore, persistence.SaveContinuationToken{Token: t})

			t.Revision++
			persist(*ctx, *dataStore, persistence.RemoveContinuationToken{Token: t})

			_, ok, err := (*dataStore).LoadContinuationToken(*ctx, "<id>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("rejects removal of a token that does not exist", func() {
			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.RemoveContinuationToken{Token: newToken()},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
		})

		ginkgo.It("reports a missing token", func() {
			_, ok, err := (*dataStore).LoadContinuationToken(*ctx, "<unknown>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})
	})
}

func declareQueueTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("queue items", func() {
		newItem := func(id string, at time.Time) persistence.QueueItem {
			return persistence.QueueItem{
				NextAttemptAt: at,
				Token: continuation.Token{
					TrackingID: id,
					Handler:    "<handler>",
				},
			}
		}

		ginkgo.It("loads items in order of their next-attempt times", func() {
			now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

			persist(*ctx, *dataStore,
				persistence.SaveQueueItem{Item: newItem("<later>", now.Add(time.Hour))},
				persistence.SaveQueueItem{Item: newItem("<sooner>", now)},
			)

			items, err := (*dataStore).LoadQueueItems(*ctx, 10)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(items).To(gomega.HaveLen(2))
			gomega.Expect(items[0].ID()).To(gomega.Equal("<sooner>"))
			gomega.Expect(items[1].ID()).To(gomega.Equal("<later>"))
		})

		ginkgo.It("limits the number of items it loads", func() {
			now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

			persist(*ctx, *dataStore,
				persistence.SaveQueueItem{Item: newItem("<a>", now)},
				persistence.SaveQueueItem{Item: newItem("<b>", now.Add(time.Minute))},
				persistence.SaveQueueItem{Item: newItem("<c>", now.Add(time.Hour))},
			)

			items, err := (*dataStore).LoadQueueItems(*ctx, 2)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(items).To(gomega.HaveLen(2))
		})

		ginkgo.It("rejects a save with a stale revision", func() {
			i := newItem("<id>", time.Now())
			persist(*ctx, *dataStore, persistence.SaveQueueItem{Item: i})

			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.SaveQueueItem{Item: i},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
		})

		ginkgo.It("removes an item", func() {
			i := newItem("<id>", time.Now())
			persist(*ctx, *dataStore, persistence.SaveQueueItem{Item: i})

			i.Revision++
			persist(*ctx, *dataStore, persistence.RemoveQueueItem{Item: i})

			items, err := (*dataStore).LoadQueueItems(*ctx, 10)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(items).To(gomega.BeEmpty())
		})
	})
}

func declareResourceTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("resource records", func() {
		newRecord := func(id string, created time.Time) persistence.ResourceRecord {
			return persistence.ResourceRecord{
				ID:       id,
				SkuName:  "<sku>",
				Type:     persistence.ResourceTypeCompute,
				Location: "<location>",
				Created:  created,
			}
		}

		ginkgo.It("round-trips a saved record", func() {
			created := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
			persist(*ctx, *dataStore, persistence.SaveResourceRecord{
				Record: newRecord("<id>", created),
			})

			rec, ok, err := (*dataStore).LoadResourceRecord(*ctx, "<id>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(rec.SkuName).To(gomega.Equal("<sku>"))
			gomega.Expect(rec.Type).To(gomega.Equal(persistence.ResourceTypeCompute))
			gomega.Expect(rec.Location).To(gomega.Equal("<location>"))
			gomega.Expect(rec.Created).To(gomega.BeTemporally("==", created))
			gomega.Expect(rec.Revision).To(gomega.BeEquivalentTo(1))
		})

		ginkgo.It("rejects a conditional update with a stale revision", func() {
			rec := newRecord("<id>", time.Now())
			persist(*ctx, *dataStore, persistence.SaveResourceRecord{Record: rec})

			rec.IsAssigned = true
			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.SaveResourceRecord{Record: rec},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
		})

		ginkgo.Describe("func LoadOldestUnassigned()", func() {
			ginkgo.It("returns the oldest matching unassigned record", func() {
				now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

				older := newRecord("<older>", now.Add(-time.Hour))
				newer := newRecord("<newer>", now)

				persist(*ctx, *dataStore,
					persistence.SaveResourceRecord{Record: newer},
					persistence.SaveResourceRecord{Record: older},
				)

				rec, ok, err := (*dataStore).LoadOldestUnassigned(
					*ctx,
					"<sku>",
					persistence.ResourceTypeCompute,
					"<location>",
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(rec.ID).To(gomega.Equal("<older>"))
			})

			ginkgo.It("ignores assigned records and records with a different SKU, type or location", func() {
				now := time.Now()

				assigned := newRecord("<assigned>", now)
				assigned.IsAssigned = true

				otherSku := newRecord("<other-sku>", now)
				otherSku.SkuName = "<other>"

				otherLocation := newRecord("<other-location>", now)
				otherLocation.Location = "<other>"

				persist(*ctx, *dataStore,
					persistence.SaveResourceRecord{Record: assigned},
					persistence.SaveResourceRecord{Record: otherSku},
					persistence.SaveResourceRecord{Record: otherLocation},
				)

				_, ok, err := (*dataStore).LoadOldestUnassigned(
					*ctx,
					"<sku>",
					persistence.ResourceTypeCompute,
					"<location>",
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func CountUnassigned()", func() {
			ginkgo.It("counts only matching unassigned records", func() {
				now := time.Now()

				assigned := newRecord("<assigned>", now)
				assigned.IsAssigned = true

				persist(*ctx, *dataStore,
					persistence.SaveResourceRecord{Record: newRecord("<a>", now)},
					persistence.SaveResourceRecord{Record: newRecord("<b>", now)},
					persistence.SaveResourceRecord{Record: assigned},
				)

				n, err := (*dataStore).CountUnassigned(
					*ctx,
					"<sku>",
					persistence.ResourceTypeCompute,
					"<location>",
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(n).To(gomega.Equal(2))
			})
		})

		ginkgo.Describe("func ListShard()", func() {
			ginkgo.It("returns records whose IDs carry the given prefix, ordered by ID", func() {
				now := time.Now()

				persist(*ctx, *dataStore,
					persistence.SaveResourceRecord{Record: newRecord("0b", now)},
					persistence.SaveResourceRecord{Record: newRecord("0a", now)},
					persistence.SaveResourceRecord{Record: newRecord("1a", now)},
				)

				recs, err := (*dataStore).ListShard(*ctx, "0")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(recs).To(gomega.HaveLen(2))
				gomega.Expect(recs[0].ID).To(gomega.Equal("0a"))
				gomega.Expect(recs[1].ID).To(gomega.Equal("0b"))
			})

			ginkgo.It("matches the prefix case-insensitively", func() {
				persist(*ctx, *dataStore,
					persistence.SaveResourceRecord{Record: newRecord("Abc", time.Now())},
				)

				recs, err := (*dataStore).ListShard(*ctx, "a")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(recs).To(gomega.HaveLen(1))
			})
		})
	})
}

func declareClaimTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("job claims", func() {
		ginkgo.It("round-trips a saved claim", func() {
			expires := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
			persist(*ctx, *dataStore, persistence.SaveJobClaim{
				Claim: persistence.JobClaim{
					Job:       "<job>",
					Shard:     "0",
					ExpiresAt: expires,
				},
			})

			c, ok, err := (*dataStore).LoadJobClaim(*ctx, "<job>", "0")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(c.Job).To(gomega.Equal("<job>"))
			gomega.Expect(c.Shard).To(gomega.Equal("0"))
			gomega.Expect(c.ExpiresAt).To(gomega.BeTemporally("==", expires))
			gomega.Expect(c.Revision).To(gomega.BeEquivalentTo(1))
		})

		ginkgo.It("keys claims by job and shard", func() {
			persist(*ctx, *dataStore, persistence.SaveJobClaim{
				Claim: persistence.JobClaim{Job: "<job>", Shard: "0"},
			})

			_, ok, err := (*dataStore).LoadJobClaim(*ctx, "<job>", "1")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			_, ok, err = (*dataStore).LoadJobClaim(*ctx, "<other-job>", "0")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("rejects a save with a stale revision", func() {
			claim := persistence.JobClaim{Job: "<job>", Shard: "0"}
			persist(*ctx, *dataStore, persistence.SaveJobClaim{Claim: claim})

			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.SaveJobClaim{Claim: claim},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
		})

		ginkgo.It("renews a claim at the current revision", func() {
			claim := persistence.JobClaim{Job: "<job>", Shard: "0"}
			persist(*ctx, *dataStore, persistence.SaveJobClaim{Claim: claim})

			claim.Revision = 1
			persist(*ctx, *dataStore, persistence.SaveJobClaim{Claim: claim})

			c, ok, err := (*dataStore).LoadJobClaim(*ctx, "<job>", "0")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(c.Revision).To(gomega.BeEquivalentTo(2))
		})
	})
}

func declareAtomicityTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("batch atomicity", func() {
		ginkgo.It("applies none of a batch when one operation conflicts", func() {
			t := continuation.Token{
				TrackingID: "<id>",
				Handler:    "<handler>",
			}

			err := (*dataStore).Persist(
				*ctx,
				persistence.Batch{
					persistence.SaveContinuationToken{Token: t},
					persistence.RemoveResourceRecord{
						Record: persistence.ResourceRecord{ID: "<missing>"},
					},
				},
			)
			gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))

			_, ok, err := (*dataStore).LoadContinuationToken(*ctx, "<id>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})
	})
}
