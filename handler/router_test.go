package handler_test

import (
	. "github.com/perdure/perdure/handler"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Router", func() {
	Describe("func NewRouter()", func() {
		It("panics if two machines share a name", func() {
			Expect(func() {
				NewRouter(
					&Machine{Name: "<machine>"},
					&Machine{Name: "<machine>"},
				)
			}).To(PanicWith("multiple machines registered as '<machine>'"))
		})
	})

	Describe("func Route()", func() {
		It("returns the machine registered for the target", func() {
			expected := &Machine{Name: "<machine>"}
			r := NewRouter(expected)

			m, err := r.Route("<machine>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(m).To(BeIdenticalTo(expected))
		})

		It("returns an error for an unregistered target", func() {
			r := NewRouter()

			_, err := r.Route("<unknown>")
			Expect(err).To(MatchError(
				UnknownHandlerError{Handler: "<unknown>"},
			))
		})
	})
})
