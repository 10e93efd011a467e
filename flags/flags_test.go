package flags_test

import (
	"context"

	. "github.com/perdure/perdure/flags"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Static", func() {
	It("reports the configured flag states", func() {
		s := Static{
			"<on>":  true,
			"<off>": false,
		}

		on, err := s.IsEnabled(context.Background(), "<on>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(on).To(BeTrue())

		on, err = s.IsEnabled(context.Background(), "<off>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(on).To(BeFalse())
	})

	It("treats absent flags as disabled", func() {
		on, err := Static{}.IsEnabled(context.Background(), "<unknown>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(on).To(BeFalse())
	})
})

var _ = Describe("var Enabled", func() {
	It("enables every flag", func() {
		on, err := Enabled.IsEnabled(context.Background(), "<any>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(on).To(BeTrue())
	})
})
