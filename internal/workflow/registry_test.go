package workflow

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const researchVendorYAML = `
name: research_vendor
version: "1"
category: research
triggers:
  - intent: research vendor
  - pattern: "research {vendor}"
inputs:
  - name: vendor
    type: string
    required: true
steps:
  - name: search_vendor_site
    tool: web.search
    args:
      query: "{{vendor}} pricing"
success_criteria:
  - "summary != \"\""
`

const checkAvailabilityYAML = `
name: check_availability
version: "1"
category: research
triggers:
  - intent: check availability
  - pattern: "is {product} in stock"
steps:
  - name: query_availability
    tool: web.search
    args:
      query: "{{product}} availability"
success_criteria:
  - "availability != \"\""
`

var _ = Describe("Registry", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "research_vendor.yaml"), []byte(researchVendorYAML), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "check_availability.yaml"), []byte(checkAvailabilityYAML), 0o644)).To(Succeed())
	})

	It("loads every workflow file in the directory", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()
		Expect(r.All()).To(HaveLen(2))
	})

	It("matches an exact intent trigger with confidence 1.0", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		m, err := r.Match(context.Background(), "research vendor")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).NotTo(BeNil())
		Expect(m.Workflow.Name).To(Equal("research_vendor"))
		Expect(m.Strategy).To(Equal("exact_intent"))
		Expect(m.Confidence).To(Equal(1.0))
	})

	It("matches a glob pattern and captures the placeholder", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		m, err := r.Match(context.Background(), "research acme corp")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).NotTo(BeNil())
		Expect(m.Workflow.Name).To(Equal("research_vendor"))
		Expect(m.Strategy).To(Equal("glob_placeholder"))
		Expect(m.Captures["vendor"]).To(Equal("acme corp"))
	})

	It("matches the other glob-pattern workflow independently", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		m, err := r.Match(context.Background(), "is widget in stock")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).NotTo(BeNil())
		Expect(m.Workflow.Name).To(Equal("check_availability"))
	})

	It("returns nil when nothing matches and no LLM runner is configured", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		m, err := r.Match(context.Background(), "tell me a joke")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(BeNil())
	})

	It("picks up a newly added workflow file after a hot reload", func() {
		r, err := LoadRegistry(dir, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		newYAML := "name: new_flow\nversion: \"1\"\ncategory: misc\ntriggers:\n  - intent: do the new thing\nsteps: []\n"
		Expect(os.WriteFile(filepath.Join(dir, "new_flow.yaml"), []byte(newYAML), 0o644)).To(Succeed())

		Eventually(func() bool {
			_, ok := r.Get("new_flow")
			return ok
		}).Should(BeTrue())
	})
})
