// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hashicorp/labrador/helper"
	"github.com/hashicorp/labrador/labrador/auth"
	"github.com/hashicorp/labrador/labrador/state"
	"github.com/hashicorp/labrador/labrador/structs"
)

// tokenCacheSize bounds the verified-token cache. Tokens are immutable and
// users are never deleted, so entries stay valid for the token lifetime.
const tokenCacheSize = 512

// statsPeriod is how often component gauges are published.
const statsPeriod = 10 * time.Second

// Server owns every pipeline component: the state store, the token
// authenticator, the extractor, the notification hub, and the scheduler
// driving the batch orchestrator. The HTTP agent is a thin layer over it.
type Server struct {
	config *Config
	logger hclog.Logger

	store        *state.StateStore
	authn        *auth.Authenticator
	extractor    Extractor
	hub          *Hub
	orchestrator *Orchestrator
	scheduler    *Scheduler

	// tokenCache short-circuits repeat verification of hot tokens.
	tokenCache *lru.Cache[string, *auth.Identity]

	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
	isShutdown   bool
}

// NewServer opens the store and wires the pipeline together without
// starting it; Start kicks off the scheduler and stats loops. extractor may
// be nil, in which case the LLM client is built from the config.
func NewServer(config *Config, extractor Extractor) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	logger = logger.Named("labrador")

	store, err := state.New(state.Config{
		Path:   config.DBPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	authn, err := auth.NewAuthenticator(config.SecretKey, config.TokenTTL)
	if err != nil {
		store.Close()
		return nil, err
	}

	if extractor == nil {
		extractor, err = NewExtractor(ExtractorConfig{
			URL:               config.AIURL,
			APIKey:            config.AIAPIKey,
			Model:             config.AIModel,
			Timeout:           config.AITimeout,
			RequestsPerSecond: config.AIRequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to build extractor: %w", err)
		}
	}

	tokenCache, err := lru.New[string, *auth.Identity](tokenCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Server{
		config:     config,
		logger:     logger,
		store:      store,
		authn:      authn,
		extractor:  extractor,
		tokenCache: tokenCache,
		shutdownCh: make(chan struct{}),
	}

	s.hub = NewHub(&HubConfig{
		Logger:            logger,
		Auth:              s,
		HeartbeatInterval: config.HeartbeatInterval,
	})

	s.orchestrator = NewOrchestrator(&OrchestratorConfig{
		Logger:         logger,
		Store:          store,
		Extractor:      extractor,
		Notifier:       s.hub,
		BatchSize:      config.BatchSize,
		LongDelay:      config.LongDelay,
		ImmediateDelay: config.ImmediateDelay,
		ErrorDelay:     config.ErrorRetryDelay,
	})

	s.scheduler = NewScheduler(s.orchestrator.RunIteration, config.ErrorRetryDelay, logger)
	return s, nil
}

// Start launches the pipeline scheduler and the stats loops.
func (s *Server) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}

	go s.scheduler.EmitStats(statsPeriod, s.shutdownCh)
	go s.hub.EmitStats(statsPeriod, s.shutdownCh)
	go s.emitQueueStats()

	s.logger.Info("pipeline started",
		"batch_size", s.config.BatchSize,
		"long_delay", s.config.LongDelay,
		"db", s.config.DBPath)
	return nil
}

// Shutdown stops the scheduler, closes every push session and releases the
// store. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if s.isShutdown {
		return nil
	}
	s.isShutdown = true
	s.logger.Info("shutting down")

	close(s.shutdownCh)
	s.scheduler.Stop()
	s.hub.Shutdown()
	return s.store.Close()
}

// Store exposes the state layer to the HTTP agent.
func (s *Server) Store() *state.StateStore { return s.store }

// Hub exposes the push surface to the HTTP agent.
func (s *Server) Hub() *Hub { return s.hub }

// Login authenticates a username and password, minting a bearer token. A
// username never seen before is registered on the spot with the supplied
// password; that is the only signup path.
func (s *Server) Login(ctx context.Context, username, password string) (*structs.User, string, error) {
	if err := structs.ValidateCredentials(username, password); err != nil {
		return nil, "", err
	}

	user, err := s.store.UserByUsername(ctx, username)
	switch {
	case errors.Is(err, structs.ErrNotFound):
		hash, herr := auth.HashPassword(password)
		if herr != nil {
			return nil, "", structs.NewInternalError(herr)
		}
		user, err = s.store.CreateUser(ctx, username, hash)
		if err != nil {
			// A concurrent first login for the same name can slip in
			// between the lookup and the insert.
			if errors.Is(err, structs.ErrConflict) {
				return s.loginExisting(ctx, username, password)
			}
			return nil, "", err
		}
		s.logger.Info("registered new user", "username", username, "user_id", user.ID)
	case err != nil:
		return nil, "", err
	default:
		if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
			return nil, "", err
		}
	}

	token, err := s.authn.Mint(user)
	if err != nil {
		return nil, "", structs.NewInternalError(err)
	}
	return user, token, nil
}

func (s *Server) loginExisting(ctx context.Context, username, password string) (*structs.User, string, error) {
	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, "", err
	}
	token, err := s.authn.Mint(user)
	if err != nil {
		return nil, "", structs.NewInternalError(err)
	}
	return user, token, nil
}

// AuthenticateToken verifies a bearer token and confirms the user it names
// still exists. Successful resolutions are cached for the token's lifetime.
func (s *Server) AuthenticateToken(ctx context.Context, token string) (*auth.Identity, error) {
	if identity, ok := s.tokenCache.Get(token); ok {
		return identity, nil
	}

	identity, err := s.authn.Verify(token)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.UserByID(ctx, identity.UserID); err != nil {
		if errors.Is(err, structs.ErrNotFound) {
			return nil, structs.ErrTokenUserNotFound
		}
		return nil, err
	}

	s.tokenCache.Add(token, identity)
	return identity, nil
}

// ServerStatus aggregates component stats for the status endpoint.
type ServerStatus struct {
	Scheduler    *SchedulerStats      `json:"scheduler"`
	Orchestrator *OrchestratorStats   `json:"orchestrator"`
	Hub          *HubStatus           `json:"hub"`
	Queue        *structs.OcrJobStats `json:"queue"`
}

// Status reports a point-in-time view of the whole pipeline.
func (s *Server) Status(ctx context.Context) (*ServerStatus, error) {
	queue, err := s.store.OcrJobStats(ctx)
	if err != nil {
		return nil, err
	}
	return &ServerStatus{
		Scheduler:    s.scheduler.Stats(),
		Orchestrator: s.orchestrator.Stats(),
		Hub:          s.hub.Status(),
		Queue:        queue,
	}, nil
}

// Ping reports whether the store is reachable.
func (s *Server) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// emitQueueStats publishes queue depth gauges until shutdown.
func (s *Server) emitQueueStats() {
	timer, stop := helper.NewSafeTimer(statsPeriod)
	defer stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(statsPeriod)
			stats, err := s.store.OcrJobStats(context.Background())
			if err != nil {
				continue
			}
			metrics.SetGauge([]string{"labrador", "queue", "available"}, float32(stats.Available))
			metrics.SetGauge([]string{"labrador", "queue", "in_flight"}, float32(stats.InFlight))
		case <-s.shutdownCh:
			return
		}
	}
}
