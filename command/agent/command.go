// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/cli"
	log "github.com/hashicorp/go-hclog"
	"github.com/posener/complete"

	"github.com/hashicorp/labrador/version"
)

// gracefulTimeout controls how long we wait before forcefully terminating
const gracefulTimeout = 5 * time.Second

// Command is a Command implementation that runs a Labrador agent. The
// command will not end unless a shutdown message is sent on the
// ShutdownCh. If two messages are sent on the ShutdownCh it will forcibly
// exit.
type Command struct {
	Version    *version.VersionInfo
	Ui         cli.Ui
	ShutdownCh <-chan struct{}

	args       []string
	agent      *Agent
	httpServer *HTTPServer
	logger     log.InterceptLogger
}

func (c *Command) readConfig() *Config {
	// Make a new, empty config.
	cmdConfig := &Config{Telemetry: &Telemetry{}}

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }

	flags.BoolVar(&cmdConfig.DevMode, "dev", false, "")
	flags.StringVar(&cmdConfig.BindAddr, "bind", "", "")
	flags.IntVar(&cmdConfig.Port, "port", 0, "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.BoolVar(&cmdConfig.LogJSON, "log-json", false, "")
	flags.BoolVar(&cmdConfig.EnableDebug, "enable-debug", false, "")
	flags.StringVar(&cmdConfig.DBPath, "db-path", "", "")
	flags.StringVar(&cmdConfig.SecretKey, "secret-key", "", "")
	flags.IntVar(&cmdConfig.BatchSize, "batch-size", 0, "")
	flags.BoolVar(&cmdConfig.Telemetry.PrometheusMetrics, "prometheus-metrics", false, "")

	if err := flags.Parse(c.args); err != nil {
		return nil
	}

	// Settings resolve default, then environment, then flags.
	config, err := LoadEnvConfig()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading environment config: %s", err))
		return nil
	}
	if cmdConfig.DevMode {
		config = config.Merge(DevConfig())
	}
	config = config.Merge(cmdConfig)

	if config.SecretKey == "" {
		c.Ui.Error("Must specify a secret key via SECRET_KEY or -secret-key (or run with -dev)")
		return nil
	}
	if !config.DevMode && config.AIURL == "" {
		c.Ui.Error("Must specify an extraction endpoint via AI_API_URL (or run with -dev)")
		return nil
	}
	return config
}

// setupLoggers is used to set up the logger the agent hangs everything off.
func (c *Command) setupLoggers(config *Config) log.InterceptLogger {
	return log.NewInterceptLogger(&log.LoggerOptions{
		Name:       "labrador",
		Level:      log.LevelFromString(config.LogLevel),
		Output:     os.Stderr,
		JSONFormat: config.LogJSON,
	})
}

// setupTelemetry is used to set up the telemetry sub-systems.
func (c *Command) setupTelemetry(config *Config) (*metrics.InmemSink, error) {
	// Prepare metrics
	interval := config.Telemetry.CollectionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	inm := metrics.NewInmemSink(interval, time.Minute)
	metrics.DefaultInmemSignal(inm)

	metricsConf := metrics.DefaultConfig("labrador")
	metricsConf.EnableHostname = false

	if _, err := metrics.NewGlobal(metricsConf, inm); err != nil {
		return nil, err
	}
	return inm, nil
}

func (c *Command) Run(args []string) int {
	c.Ui = &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.Ui,
	}

	c.args = args
	config := c.readConfig()
	if config == nil {
		return 1
	}

	logger := c.setupLoggers(config)
	c.logger = logger

	inm, err := c.setupTelemetry(config)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing telemetry: %s", err))
		return 1
	}

	agent, err := NewAgent(config, logger, inm)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	c.agent = agent
	defer c.agent.Shutdown()

	httpServer, err := NewHTTPServer(agent, config)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting http server: %s", err))
		return 1
	}
	c.httpServer = httpServer
	defer c.httpServer.Shutdown()

	// Compile agent information for output later
	info := map[string]string{
		"address":    httpServer.Addr,
		"batch size": fmt.Sprintf("%d", config.BatchSize),
		"db":         config.DBPath,
		"log level":  config.LogLevel,
		"version":    c.Version.VersionNumber(),
	}
	if config.DevMode {
		info["mode"] = "dev"
	}

	padding := 0
	keys := make([]string, 0, len(info))
	for key := range info {
		if len(key) > padding {
			padding = len(key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	c.Ui.Output("Labrador agent configuration:\n")
	for _, k := range keys {
		c.Ui.Info(fmt.Sprintf("%s%s: %s", strings.Repeat(" ", padding-len(k)), k, info[k]))
	}
	c.Ui.Output("")
	c.Ui.Output("Labrador agent started! Log data will stream in below:\n")

	return c.handleSignals()
}

// handleSignals blocks until we get an exit-causing signal
func (c *Command) handleSignals() int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Wait for a signal
WAIT:
	var sig os.Signal
	select {
	case s := <-signalCh:
		sig = s
	case <-c.ShutdownCh:
		sig = os.Interrupt
	}

	// Skip SIGHUP: there is no file-based configuration to reload.
	if sig == syscall.SIGHUP {
		c.logger.Info("ignoring signal", "signal", sig)
		goto WAIT
	}

	c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

	// Attempt a graceful leave
	gracefulCh := make(chan struct{})
	c.Ui.Output("Gracefully shutting down agent...")
	go func() {
		c.httpServer.Shutdown()
		if err := c.agent.Shutdown(); err != nil {
			c.logger.Error("shutdown failed", "error", err)
			return
		}
		close(gracefulCh)
	}()

	// Wait for leave or another signal
	select {
	case <-signalCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-dev":                complete.PredictNothing,
		"-bind":               complete.PredictAnything,
		"-port":               complete.PredictAnything,
		"-log-level":          complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
		"-log-json":           complete.PredictNothing,
		"-enable-debug":       complete.PredictNothing,
		"-db-path":            complete.PredictFiles("*.db"),
		"-secret-key":         complete.PredictAnything,
		"-batch-size":         complete.PredictAnything,
		"-prometheus-metrics": complete.PredictNothing,
	}
}

func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *Command) Synopsis() string {
	return "Runs a Labrador agent"
}

func (c *Command) Help() string {
	helpText := `
Usage: labrador agent [options]

  Starts the Labrador agent: the HTTP API, the push notification hub and
  the OCR extraction pipeline.

  The agent's configuration primarily comes from the environment variables
  documented below. Command line flags override their environment
  counterparts.

General Options:

  -dev
    Start the agent in development mode. This runs against an in-memory
    database with a canned extractor and a fixed signing secret, so no
    environment setup is required. Never use this in production.

  -bind=<addr>
    The address the agent will bind to for the HTTP API. Overrides
    BIND_ADDR. Defaults to 127.0.0.1.

  -port=<port>
    The port the agent will listen on. Overrides PORT. Defaults to 8610.

  -log-level=<level>
    Specify the verbosity level of Labrador's logs. Valid values include
    DEBUG, INFO, and WARN, in decreasing order of verbosity. Overrides
    LOG_LEVEL. Defaults to INFO.

  -log-json
    Output logs in a JSON format.

  -enable-debug
    Registers the pprof debug endpoints.

  -db-path=<path>
    The SQLite database file. Overrides DB_PATH. Defaults to labrador.db.

  -secret-key=<key>
    The token signing secret. Overrides SECRET_KEY. Required outside dev
    mode.

  -batch-size=<n>
    How many OCR jobs one pipeline iteration reserves. Overrides
    OCR_PROCESSOR_BATCH_SIZE. Defaults to 5.

  -prometheus-metrics
    Serve Prometheus formatted metrics from /v1/metrics. Overrides
    PROMETHEUS_METRICS.

Environment Variables:

  SECRET_KEY, AI_API_URL, AI_API_KEY, AI_MODEL, AI_TIMEOUT,
  AI_REQUESTS_PER_SECOND, OCR_PROCESSOR_BATCH_SIZE, OCR_PROCESSOR_DELAY,
  OCR_PROCESSOR_IMMEDIATE_DELAY, OCR_PROCESSOR_ERROR_RETRY_DELAY,
  HEARTBEAT_INTERVAL, DB_PATH, BIND_ADDR, PORT, LOG_LEVEL,
  PROMETHEUS_METRICS. Durations are integral milliseconds.
`
	return strings.TrimSpace(helpText)
}
