// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/labrador/labrador"
	"github.com/hashicorp/labrador/labrador/state"
)

// Config is the agent-level configuration: where to listen, how to log,
// and every pipeline knob. Values resolve in order default, environment,
// then command line flags via Merge.
type Config struct {
	// BindAddr is the address the HTTP and push server listens on.
	BindAddr string

	// Port is the HTTP listen port.
	Port int

	// LogLevel is one of TRACE, DEBUG, INFO, WARN, ERROR.
	LogLevel string

	// LogJSON emits machine readable logs.
	LogJSON bool

	// EnableDebug registers the pprof handlers.
	EnableDebug bool

	// DevMode runs against an in-memory store with a canned extractor and
	// a baked-in signing secret. Never for production.
	DevMode bool

	// DBPath locates the SQLite database file.
	DBPath string

	// SecretKey signs bearer tokens. Required outside dev mode.
	SecretKey string

	// BatchSize is how many OCR jobs one pipeline iteration reserves.
	BatchSize int

	// ProcessorDelay is the scheduler sleep once the queue is drained.
	ProcessorDelay time.Duration

	// ImmediateDelay re-enters the pipeline while work remains.
	ImmediateDelay time.Duration

	// ErrorRetryDelay applies after a pipeline-level failure.
	ErrorRetryDelay time.Duration

	// AITimeout bounds one extractor round trip.
	AITimeout time.Duration

	// HeartbeatInterval is the push session probe period.
	HeartbeatInterval time.Duration

	// AIURL, AIAPIKey and AIModel configure the extraction upstream.
	AIURL    string
	AIAPIKey string
	AIModel  string

	// AIRequestsPerSecond paces extractor calls. Zero disables pacing.
	AIRequestsPerSecond float64

	// Telemetry configures metrics sinks.
	Telemetry *Telemetry
}

// Telemetry is the metrics sink configuration.
type Telemetry struct {
	// PrometheusMetrics registers a Prometheus sink alongside the default
	// in-memory one.
	PrometheusMetrics bool

	// CollectionInterval is the in-memory sink aggregation interval.
	CollectionInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:          "127.0.0.1",
		Port:              8610,
		LogLevel:          "INFO",
		DBPath:            "labrador.db",
		BatchSize:         5,
		ProcessorDelay:    30 * time.Second,
		ImmediateDelay:    100 * time.Millisecond,
		ErrorRetryDelay:   5 * time.Second,
		AITimeout:         60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Telemetry: &Telemetry{
			CollectionInterval: 10 * time.Second,
		},
	}
}

// DevConfig returns a config suitable for iterating locally: in-memory
// state, verbose logs, a fixed signing secret and no upstream dependency.
func DevConfig() *Config {
	conf := DefaultConfig()
	conf.DevMode = true
	conf.LogLevel = "DEBUG"
	conf.DBPath = state.InMemory
	conf.SecretKey = "labrador-dev-only-secret"
	conf.ProcessorDelay = 3 * time.Second
	return conf
}

// Environment variable names, kept stable for deployment tooling.
const (
	envBatchSize         = "OCR_PROCESSOR_BATCH_SIZE"
	envProcessorDelay    = "OCR_PROCESSOR_DELAY"
	envImmediateDelay    = "OCR_PROCESSOR_IMMEDIATE_DELAY"
	envErrorRetryDelay   = "OCR_PROCESSOR_ERROR_RETRY_DELAY"
	envAITimeout         = "AI_TIMEOUT"
	envHeartbeatInterval = "HEARTBEAT_INTERVAL"
	envSecretKey         = "SECRET_KEY"
	envAIURL             = "AI_API_URL"
	envAIAPIKey          = "AI_API_KEY"
	envAIModel           = "AI_MODEL"
	envAIRatePerSecond   = "AI_REQUESTS_PER_SECOND"
	envDBPath            = "DB_PATH"
	envBindAddr          = "BIND_ADDR"
	envPort              = "PORT"
	envLogLevel          = "LOG_LEVEL"
	envPrometheus        = "PROMETHEUS_METRICS"
)

// LoadEnvConfig reads the enumerated environment variables over the
// defaults. Duration variables are integral milliseconds.
func LoadEnvConfig() (*Config, error) {
	conf := DefaultConfig()
	var mErr multierror.Error

	readInt := func(name string, dst *int) {
		if raw := os.Getenv(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = v
		}
	}
	readMillis := func(name string, dst *time.Duration) {
		if raw := os.Getenv(name); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	readString := func(name string, dst *string) {
		if raw := os.Getenv(name); raw != "" {
			*dst = raw
		}
	}
	readBool := func(name string, dst *bool) {
		if raw := os.Getenv(name); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = v
		}
	}

	readInt(envBatchSize, &conf.BatchSize)
	readMillis(envProcessorDelay, &conf.ProcessorDelay)
	readMillis(envImmediateDelay, &conf.ImmediateDelay)
	readMillis(envErrorRetryDelay, &conf.ErrorRetryDelay)
	readMillis(envAITimeout, &conf.AITimeout)
	readMillis(envHeartbeatInterval, &conf.HeartbeatInterval)
	readString(envSecretKey, &conf.SecretKey)
	readString(envAIURL, &conf.AIURL)
	readString(envAIAPIKey, &conf.AIAPIKey)
	readString(envAIModel, &conf.AIModel)
	readString(envDBPath, &conf.DBPath)
	readString(envBindAddr, &conf.BindAddr)
	readString(envLogLevel, &conf.LogLevel)
	readInt(envPort, &conf.Port)
	readBool(envPrometheus, &conf.Telemetry.PrometheusMetrics)

	if raw := os.Getenv(envAIRatePerSecond); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("%s: %w", envAIRatePerSecond, err))
		} else {
			conf.AIRequestsPerSecond = v
		}
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Merge layers b over c, returning a new config. Zero values in b leave
// c's value in place.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.BindAddr != "" {
		result.BindAddr = b.BindAddr
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJSON {
		result.LogJSON = true
	}
	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.DevMode {
		result.DevMode = true
	}
	if b.DBPath != "" {
		result.DBPath = b.DBPath
	}
	if b.SecretKey != "" {
		result.SecretKey = b.SecretKey
	}
	if b.BatchSize != 0 {
		result.BatchSize = b.BatchSize
	}
	if b.ProcessorDelay != 0 {
		result.ProcessorDelay = b.ProcessorDelay
	}
	if b.ImmediateDelay != 0 {
		result.ImmediateDelay = b.ImmediateDelay
	}
	if b.ErrorRetryDelay != 0 {
		result.ErrorRetryDelay = b.ErrorRetryDelay
	}
	if b.AITimeout != 0 {
		result.AITimeout = b.AITimeout
	}
	if b.HeartbeatInterval != 0 {
		result.HeartbeatInterval = b.HeartbeatInterval
	}
	if b.AIURL != "" {
		result.AIURL = b.AIURL
	}
	if b.AIAPIKey != "" {
		result.AIAPIKey = b.AIAPIKey
	}
	if b.AIModel != "" {
		result.AIModel = b.AIModel
	}
	if b.AIRequestsPerSecond != 0 {
		result.AIRequestsPerSecond = b.AIRequestsPerSecond
	}

	if result.Telemetry == nil && b.Telemetry != nil {
		telemetry := *b.Telemetry
		result.Telemetry = &telemetry
	} else if b.Telemetry != nil {
		result.Telemetry = result.Telemetry.Merge(b.Telemetry)
	}

	return &result
}

// Merge layers b over t.
func (t *Telemetry) Merge(b *Telemetry) *Telemetry {
	result := *t
	if b.PrometheusMetrics {
		result.PrometheusMetrics = true
	}
	if b.CollectionInterval != 0 {
		result.CollectionInterval = b.CollectionInterval
	}
	return &result
}

// normalizedAddr is the listen address the HTTP server binds.
func (c *Config) normalizedAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

// PipelineConfig converts the agent view into the core server config.
func (c *Config) PipelineConfig() *labrador.Config {
	return &labrador.Config{
		DBPath:              c.DBPath,
		BatchSize:           c.BatchSize,
		LongDelay:           c.ProcessorDelay,
		ImmediateDelay:      c.ImmediateDelay,
		ErrorRetryDelay:     c.ErrorRetryDelay,
		AITimeout:           c.AITimeout,
		AIURL:               c.AIURL,
		AIAPIKey:            c.AIAPIKey,
		AIModel:             c.AIModel,
		AIRequestsPerSecond: c.AIRequestsPerSecond,
		HeartbeatInterval:   c.HeartbeatInterval,
		SecretKey:           c.SecretKey,
	}
}
