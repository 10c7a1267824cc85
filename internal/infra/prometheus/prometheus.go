package prometheus

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sifan077/SlotBoard/config"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	scrapeTimeout     = 8 * time.Second
	maxScrapes        = 4
	defaultPort       = 9090
	defaultPath       = "/metrics"
)

// NewServer exposes the queue registry for scraping on its own port. Scrape
// errors are logged and the remaining series are still served.
func NewServer(cfg config.PrometheusConfig, metrics *QueueMetrics, log *zap.Logger) *http.Server {
	if log == nil {
		log = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newMux(path, metrics, log),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
}

func newMux(path string, metrics *QueueMetrics, log *zap.Logger) *http.ServeMux {
	handler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{
		ErrorLog:            zap.NewStdLog(log.Named("metrics")),
		ErrorHandling:       promhttp.ContinueOnError,
		Registry:            metrics.Registry,
		MaxRequestsInFlight: maxScrapes,
		Timeout:             scrapeTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.InstrumentMetricHandler(metrics.Registry, handler))
	return mux
}
