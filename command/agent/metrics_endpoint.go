// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRequest handles GET /v1/metrics, serving the in-memory sink's
// aggregated view, or the Prometheus exposition format when requested and
// enabled.
func (s *HTTPServer) MetricsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	if format := req.URL.Query().Get("format"); format == "prometheus" {
		if !s.agent.config.Telemetry.PrometheusMetrics {
			return nil, CodedError(415, "Prometheus is not enabled")
		}
		handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
		handler.ServeHTTP(resp, req)
		return nil, nil
	}

	return s.agent.InmemSink.DisplayMetrics(resp, req)
}
