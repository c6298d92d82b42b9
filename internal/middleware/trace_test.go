package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func traceTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AttachTraceContext())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

func TestAttachTraceContextSetsHeaders(t *testing.T) {
	router := traceTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("expected X-Trace-Id on the response")
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id on the response")
	}
}

func TestAttachTraceContextEchoesRequestID(t *testing.T) {
	router := traceTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-42")
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("request id not echoed: got %q", got)
	}
}
