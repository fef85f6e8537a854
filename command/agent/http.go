// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/hashicorp/labrador/labrador/auth"
	"github.com/hashicorp/labrador/labrador/structs"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"

	// maxRequestBody bounds request bodies. The largest legitimate payload
	// is an OCR batch upload; 2 MiB leaves generous headroom.
	maxRequestBody = 2 << 20
)

// allowCORS sets permissive CORS headers for a handler
var allowCORS = cors.New(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
	AllowedHeaders: []string{"*"},
})

// HTTPServer is used to wrap an Agent and expose it over an HTTP interface
type HTTPServer struct {
	agent      *Agent
	mux        *http.ServeMux
	listener   net.Listener
	listenerCh chan struct{}
	logger     hclogAdapter
	Addr       string

	wsUpgrader *websocket.Upgrader
}

// hclogAdapter narrows the logger surface the HTTP plumbing needs.
type hclogAdapter interface {
	Debug(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

// NewHTTPServer starts a new HTTP server over the agent
func NewHTTPServer(agent *Agent, config *Config) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", config.normalizedAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	mux := http.NewServeMux()

	wsUpgrader := &websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	srv := &HTTPServer{
		agent:      agent,
		mux:        mux,
		listener:   ln,
		listenerCh: make(chan struct{}),
		logger:     agent.httpLogger,
		Addr:       ln.Addr().String(),
		wsUpgrader: wsUpgrader,
	}
	srv.registerHandlers(config.EnableDebug)

	go func() {
		defer close(srv.listenerCh)
		http.Serve(ln, mux)
	}()

	return srv, nil
}

// Shutdown is used to shutdown the HTTP server
func (s *HTTPServer) Shutdown() {
	if s != nil {
		s.logger.Debug("shutting down http server")
		s.listener.Close()
		<-s.listenerCh // block until http.Serve has returned.
	}
}

// registerHandlers is used to attach our handlers to the mux. Route
// dispatch relies on ServeMux preferring the longest registered pattern:
// "/ocrdata/batch/3" hits the batch-create prefix while "/ocrdata/3"
// falls through to the by-id handler.
func (s *HTTPServer) registerHandlers(enableDebug bool) {
	s.mux.HandleFunc("/login", s.wrap(s.LoginRequest))

	s.mux.HandleFunc("/workspace", s.wrap(s.WorkspaceListRequest))
	s.mux.HandleFunc("/workspace/create", s.wrap(s.WorkspaceCreateRequest))
	s.mux.HandleFunc("/workspace/delete/", s.wrap(s.WorkspaceDeleteRequest))

	s.mux.HandleFunc("/ocrdata/batch", s.wrap(s.OcrBatchDeleteRequest))
	s.mux.HandleFunc("/ocrdata/batch/", s.wrap(s.OcrBatchCreateRequest))
	s.mux.HandleFunc("/ocrdata/workspace/", s.wrap(s.OcrWorkspaceListRequest))
	s.mux.HandleFunc("/ocrdata/", s.wrap(s.OcrSpecificRequest))

	s.mux.HandleFunc("/labreport/search", s.wrap(s.LabReportSearchRequest))
	s.mux.HandleFunc("/labreport/workspace/", s.wrap(s.LabReportWorkspaceRequest))
	s.mux.HandleFunc("/labreport/", s.wrap(s.LabReportSpecificRequest))
	s.mux.HandleFunc("/labreportitem/", s.wrap(s.LabReportItemRequest))

	s.mux.HandleFunc("/ws", s.SessionRequest)

	s.mux.HandleFunc("/v1/status", s.wrap(s.StatusRequest))
	s.mux.HandleFunc("/v1/agent/health", s.wrap(s.HealthRequest))
	s.mux.Handle("/v1/metrics", wrapCORS(s.wrap(s.MetricsRequest)))

	if enableDebug {
		s.mux.HandleFunc("/debug/pprof/", pprof.Index)
		s.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

// HTTPCodedError is used to provide the HTTP error code
type HTTPCodedError interface {
	error
	Code() int
}

func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string {
	return e.s
}

func (e *codedError) Code() int {
	return e.code
}

// successEnvelope is the uniform 2xx response shape.
type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// errorEnvelope is the uniform error response shape.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Timestamp  int64  `json:"timestamp"`
}

// errorCode maps the domain error taxonomy onto status codes. Explicitly
// coded errors win; anything unrecognized is a 500.
func errorCode(err error) int {
	var coded HTTPCodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, structs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, structs.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, structs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, structs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, structs.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// wrap is used to wrap functions to make them more convenient. Handlers
// return (payload, nil) for a 200 envelope, or write their own status via
// the codes helper before returning. Server faults never leak details.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) func(resp http.ResponseWriter, req *http.Request) {
	f := func(w http.ResponseWriter, req *http.Request) {
		resp := &statusRecorder{ResponseWriter: w}
		reqURL := req.URL.String()
		start := time.Now()
		defer func() {
			s.logger.Debug("request complete", "method", req.Method, "path", reqURL, "duration", time.Since(start))
			httpRequestsTotal.WithLabelValues(req.Method, resp.status()).Inc()
			httpRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		}()

		req.Body = http.MaxBytesReader(resp, req.Body, maxRequestBody)
		obj, err := handler(resp, req)

		if err != nil {
			code := errorCode(err)
			msg := err.Error()
			if code >= 500 {
				s.logger.Error("request failed", "method", req.Method, "path", reqURL, "error", err)
				msg = "internal server error"
			} else {
				s.logger.Debug("request rejected", "method", req.Method, "path", reqURL, "error", err)
			}
			writeError(resp, code, msg)
			return
		}

		if obj != nil {
			buf, err := json.Marshal(successEnvelope{Success: true, Data: obj})
			if err != nil {
				s.logger.Error("response encoding failed", "path", reqURL, "error", err)
				writeError(resp, http.StatusInternalServerError, "internal server error")
				return
			}
			resp.Header().Set("Content-Type", "application/json")
			resp.Write(buf)
		}
	}
	return f
}

func writeError(resp http.ResponseWriter, code int, msg string) {
	buf, err := json.Marshal(errorEnvelope{Error: errorBody{
		Message:    msg,
		StatusCode: code,
		Timestamp:  time.Now().UnixMilli(),
	}})
	if err != nil {
		http.Error(resp, msg, code)
		return
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	resp.Write(buf)
}

// created switches the success status to 201 before the envelope is
// written. Call it only on the success path.
func created(resp http.ResponseWriter) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(http.StatusCreated)
}

// decodeBody is used to decode a JSON request body
func decodeBody(req *http.Request, out interface{}) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(out); err != nil {
		return structs.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

// authenticate resolves the caller's identity from the Authorization
// bearer header, falling back to the ?token query parameter for
// transports that cannot set headers.
func (s *HTTPServer) authenticate(req *http.Request) (*auth.Identity, error) {
	token := ""
	if h := req.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
		if token == h {
			return nil, structs.ErrTokenMalformed
		}
	} else {
		token = req.URL.Query().Get("token")
	}
	return s.agent.Server().AuthenticateToken(req.Context(), token)
}

// pathID extracts the trailing numeric id from a request path given its
// registered prefix.
func pathID(req *http.Request, prefix string) (int64, error) {
	raw := strings.TrimPrefix(req.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, structs.NewValidationError("missing id in path")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, structs.NewValidationError("invalid id %q", raw)
	}
	return id, nil
}

// parseIntQuery reads an optional integer query parameter, falling back
// to def when absent.
func parseIntQuery(req *http.Request, name string, def int) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, structs.NewValidationError("invalid %s %q", name, raw)
	}
	return v, nil
}

// wrapCORS wraps a HandlerFunc in allowCORS and returns a http.Handler
func wrapCORS(f func(http.ResponseWriter, *http.Request)) http.Handler {
	return allowCORS.Handler(http.HandlerFunc(f))
}
