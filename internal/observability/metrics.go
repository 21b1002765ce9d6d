package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics はジョブ・エクスポート・HTTP のメトリクスをまとめて保持します。
// - レイテンシ: ジョブ、エクスポート、リクエストの所要時間
// - トラフィック: 処理したジョブ、エクスポート、リクエストの件数
// - エラー: 失敗したジョブとエクスポート
// - 飽和度: 変換中のジョブ数
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// ジョブ
	JobDuration         metric.Float64Histogram
	JobsTotal           metric.Int64Counter
	JobErrorsTotal      metric.Int64Counter
	JobsActive          metric.Int64UpDownCounter
	JobStaleCompletions metric.Int64Counter

	// エクスポート
	ExportDuration    metric.Float64Histogram
	ExportsTotal      metric.Int64Counter
	ExportErrorsTotal metric.Int64Counter
}

// NewMetrics は専用の Prometheus レジストリ上に計測器を作成し、公開用のハンドラーと合わせて返します。
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("image-compressor")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Image transformation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of transformations started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed transformations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of transformations in flight (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobStaleCompletions, err = meter.Int64Counter(
		"job_stale_completions_total",
		metric.WithDescription("Completions discarded because the job was removed or re-run"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportDuration, err = meter.Float64Histogram(
		"export_duration_seconds",
		metric.WithDescription("Archive bundling duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportsTotal, err = meter.Int64Counter(
		"exports_total",
		metric.WithDescription("Total number of archives bundled"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportErrorsTotal, err = meter.Int64Counter(
		"export_errors_total",
		metric.WithDescription("Total number of failed bundling attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest は HTTP リクエスト1件分を記録します。
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordJobStarted は変換の開始を記録します。
func (m *Metrics) RecordJobStarted(ctx context.Context) {
	m.JobsTotal.Add(ctx, 1)
	m.JobsActive.Add(ctx, 1)
}

// RecordJobCompleted は変換の終了を成否と合わせて記録します。
func (m *Metrics) RecordJobCompleted(ctx context.Context, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1)

	if !success {
		m.JobErrorsTotal.Add(ctx, 1)
	}
}

// RecordStaleCompletion は破棄された完了通知を記録します。
func (m *Metrics) RecordStaleCompletion(ctx context.Context) {
	m.JobStaleCompletions.Add(ctx, 1)
}

// RecordExport はアーカイブ作成1回分を記録します。
func (m *Metrics) RecordExport(ctx context.Context, success bool, entries int, durationSeconds float64) {
	attrs := metric.WithAttributes(successAttr(success))
	m.ExportDuration.Record(ctx, durationSeconds, attrs)
	m.ExportsTotal.Add(ctx, 1, attrs)

	if !success {
		m.ExportErrorsTotal.Add(ctx, 1)
	}
}

// Middleware はルート定義のパスをラベルにしてリクエストを記録します。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Seconds())
	}
}
