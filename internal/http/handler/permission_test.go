package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/internal/http/handler"
	"basegraph.app/pandora/internal/toolexec"
)

var _ = Describe("PermissionHandler", func() {
	var (
		router   *gin.Engine
		broker   *toolexec.ApprovalBroker
		client   *redis.Client
		mr       *miniredis.Miniredis
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		broker = toolexec.NewApprovalBroker(client)

		h := handler.NewPermissionHandler(broker)
		router = gin.New()
		router.POST("/api/permissions/:id/resolve", h.Resolve)
		router.GET("/api/permissions/pending", h.Pending)
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("resolves a pending approval", func() {
		body, _ := json.Marshal(map[string]any{"approved": true})
		req := httptest.NewRequest(http.MethodPost, "/api/permissions/req-1/resolve", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["approved"]).To(Equal(true))
		Expect(resp["request_id"]).To(Equal("req-1"))
	})

	It("rejects a malformed resolve body", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/permissions/req-1/resolve", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("lists pending approvals", func() {
		Expect(broker.RegisterPending(context.Background(), toolexec.PendingApproval{
			RequestID:   "req-2",
			ToolName:    "write_file",
			SessionID:   "session-2",
			RequestedAt: time.Now().UTC(),
		})).To(Succeed())

		request := httptest.NewRequest(http.MethodGet, "/api/permissions/pending", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, request)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp map[string][]map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["pending"]).To(HaveLen(1))
		Expect(resp["pending"][0]["request_id"]).To(Equal("req-2"))
	})
})
