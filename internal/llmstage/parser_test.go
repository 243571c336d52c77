package llmstage_test

import (
	"context"

	"basegraph.app/pandora/internal/llmstage"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type searchTerms struct {
	Terms []string `json:"search_terms"`
}

var _ = Describe("ParseForgiving", func() {
	ctx := context.Background()

	It("parses strict JSON on the first pass", func() {
		got, outcome, err := llmstage.ParseForgiving[searchTerms](ctx, `{"search_terms":["gpu","price"]}`, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(llmstage.ParseStrict))
		Expect(got.Terms).To(Equal([]string{"gpu", "price"}))
	})

	It("repairs a fenced code block with a trailing comma", func() {
		raw := "```json\n{\"search_terms\": [\"gpu\", \"price\"],}\n```"
		got, outcome, err := llmstage.ParseForgiving[searchTerms](ctx, raw, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(llmstage.ParseRepaired))
		Expect(got.Terms).To(Equal([]string{"gpu", "price"}))
	})

	It("falls through to regex extraction when the blob is not JSON at all", func() {
		raw := "search_terms: gpu, price, availability"
		extract := func(s string) (searchTerms, bool) {
			return searchTerms{Terms: []string{"gpu", "price", "availability"}}, true
		}
		got, outcome, err := llmstage.ParseForgiving(ctx, raw, extract)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(llmstage.ParseExtracted))
		Expect(got.Terms).To(HaveLen(3))
	})

	It("returns a schema-defaulted zero value and a schema_failure error as a last resort", func() {
		got, outcome, err := llmstage.ParseForgiving[searchTerms](ctx, "not json and no extractor", nil)
		Expect(err).To(HaveOccurred())
		Expect(outcome).To(Equal(llmstage.ParseDefaulted))
		Expect(got.Terms).To(BeEmpty())
	})
})
