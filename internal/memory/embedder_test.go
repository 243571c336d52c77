package memory

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewEmbedder", func() {
	var server *httptest.Server

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	It("embeds text via the OpenAI embeddings endpoint", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/embeddings"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"object": "list",
				"model": "text-embedding-3-small",
				"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
				"usage": {"prompt_tokens": 2, "total_tokens": 2}
			}`))
		}))

		embedder := NewEmbedder("test-key", server.URL, "")
		vec, err := embedder.Embed(context.Background(), "hello world")

		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(HaveLen(3))
		Expect(vec[0]).To(BeNumerically("~", 0.1, 1e-6))
	})

	It("surfaces an error when the endpoint is unreachable", func() {
		embedder := NewEmbedder("test-key", "http://127.0.0.1:1", "")
		_, err := embedder.Embed(context.Background(), "hello world")
		Expect(err).To(HaveOccurred())
	})
})
