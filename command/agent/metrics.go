// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "labrador_http_requests_total",
	Help: "counter of HTTP requests handled by the agent",
}, []string{"method", "code"})

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "labrador_http_request_duration_seconds",
	Help:    "histogram of HTTP request handling time",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})

// statusRecorder captures the response status code for instrumentation.
// An unwritten header means the default 200.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) status() string {
	if r.code == 0 {
		return "200"
	}
	return strconv.Itoa(r.code)
}
