package exporter

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rxtx-hosting/cardcount/pkg/estimator"
)

type PrometheusExporter struct {
	registry       *prometheus.Registry
	estimatedHosts *prometheus.GaugeVec
	lowerBound     *prometheus.GaugeVec
	upperBound     *prometheus.GaugeVec
	estimateErrors *prometheus.CounterVec
}

func NewPrometheusExporter() *PrometheusExporter {
	estimatedHosts := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardcount_estimated_hosts",
			Help: "Estimated number of hosts behind the AS address pool in the last queried window",
		},
		[]string{"asn"},
	)

	lowerBound := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardcount_estimated_hosts_lower",
			Help: "Lower confidence bound of the host estimate",
		},
		[]string{"asn"},
	)

	upperBound := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardcount_estimated_hosts_upper",
			Help: "Upper confidence bound of the host estimate",
		},
		[]string{"asn"},
	)

	estimateErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardcount_estimate_errors_total",
			Help: "Estimate requests that failed, by reason",
		},
		[]string{"reason"},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(estimatedHosts, lowerBound, upperBound, estimateErrors)

	return &PrometheusExporter{
		registry:       registry,
		estimatedHosts: estimatedHosts,
		lowerBound:     lowerBound,
		upperBound:     upperBound,
		estimateErrors: estimateErrors,
	}
}

func (p *PrometheusExporter) Record(result estimator.Result) {
	asn := strconv.FormatUint(uint64(result.AS), 10)
	p.estimatedHosts.WithLabelValues(asn).Set(result.NumHosts)
	p.lowerBound.WithLabelValues(asn).Set(result.LowerBound)
	p.upperBound.WithLabelValues(asn).Set(result.UpperBound)
}

func (p *PrometheusExporter) RecordError(reason string) {
	p.estimateErrors.WithLabelValues(reason).Inc()
}

func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusExporter) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	return http.ListenAndServe(addr, mux)
}
