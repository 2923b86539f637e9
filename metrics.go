package interpersonal

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the App's Prometheus collectors. Each App owns a registry so
// tests can run several Apps in one process.
type Metrics struct {
	registry *prometheus.Registry

	codesGranted  prometheus.Counter
	tokensIssued  prometheus.Counter
	verifications *prometheus.CounterVec
	postsCreated  *prometheus.CounterVec
	mediaUploads  *prometheus.CounterVec
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		codesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interpersonal_authorization_codes_total",
			Help: "Authorization codes granted by the owner.",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interpersonal_tokens_issued_total",
			Help: "Bearer tokens issued for redeemed authorization codes.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interpersonal_token_verifications_total",
			Help: "Bearer token verifications by result.",
		}, []string{"result"}),
		postsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interpersonal_posts_created_total",
			Help: "Posts created through Micropub.",
		}, []string{"blog"}),
		mediaUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interpersonal_media_uploads_total",
			Help: "Media endpoint uploads by blog and whether the item was new.",
		}, []string{"blog", "created"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.codesGranted,
		m.tokensIssued,
		m.verifications,
		m.postsCreated,
		m.mediaUploads,
	)
	return m
}

func (m *Metrics) verified(ok bool) {
	result := "valid"
	if !ok {
		result = "invalid"
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) mediaUploaded(blog string, created bool) {
	m.mediaUploads.WithLabelValues(blog, strconv.FormatBool(created)).Inc()
}

func (m *Metrics) handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
