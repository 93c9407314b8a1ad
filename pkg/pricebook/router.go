// Package pricebook is the partner-facing HTTP surface. Every data route
// maps to one Salesforce Apex REST action and relays its body unchanged.
package pricebook

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/natserract/distributors/pkg/config"
	sfapex "github.com/natserract/distributors/pkg/salesforce/apex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var probePaths = []string{"/", "/livez", "/readyz"}

const metricsPath = "/metrics"

// NewRouter builds the service router. gatherer may be nil, in which case
// /metrics is not mounted.
func NewRouter(cfg *config.Config, apex sfapex.ApexClient, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(AccessLog(logger, append(probePaths, metricsPath)...))
	r.Use(middleware.Recoverer)
	r.Use(Identity(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	for _, p := range probePaths {
		r.Get(p, Health)
	}

	if cfg.MetricsEnabled && gatherer != nil {
		r.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	h := NewHandler(apex, cfg.PartnerMDMID, cfg.StrictResponseModels, logger)
	r.Route("/api/"+cfg.AppName, func(r chi.Router) {
		r.Use(RequireBasicAuth)
		for _, rt := range routes {
			r.Get(rt.path, h.relay(rt))
		}
		for _, rt := range legacyRoutes {
			r.Get(rt.path, h.relay(rt))
		}
	})

	return r
}
