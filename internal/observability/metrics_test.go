package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewMetrics(t *testing.T) {
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}
	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordJobAndExportMetrics(t *testing.T) {
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordJobStarted(ctx)
	metrics.RecordJobCompleted(ctx, true, 0.2)
	metrics.RecordJobStarted(ctx)
	metrics.RecordJobCompleted(ctx, false, 0.1)
	metrics.RecordStaleCompletion(ctx)
	metrics.RecordExport(ctx, true, 3, 0.05)
	metrics.RecordExport(ctx, false, 1, 0.01)

	body := scrape(t, handler)
	for _, name := range []string{
		"jobs_total",
		"job_errors_total",
		"job_stale_completions_total",
		"job_duration_seconds",
		"exports_total",
		"export_errors_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %s not exported", name)
		}
	}
}

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics, handler, err := NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/jobs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/42", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	body := scrape(t, handler)
	if !strings.Contains(body, `path="/api/jobs/:id"`) {
		t.Fatalf("route template not recorded:\n%s", body)
	}
	if strings.Contains(body, "/api/jobs/42") {
		t.Fatal("raw path must not be used as a label")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/api/jobs/:id", "/api/jobs/:id"},
		{"", "unmatched"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.input); got != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}
