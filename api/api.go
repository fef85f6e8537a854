// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package api is the client SDK for the Labrador HTTP API. It has no
// dependency on the server packages so third parties can import it
// without dragging in the pipeline.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

const (
	// EnvAddress names the environment variable read for the agent address.
	EnvAddress = "LABRADOR_ADDR"

	// EnvToken names the environment variable read for the bearer token.
	EnvToken = "LABRADOR_TOKEN"
)

// Config is used to configure the creation of a client.
type Config struct {
	// Address is the address of the Labrador agent.
	Address string

	// Token is the bearer token sent with authenticated requests.
	Token string

	// HttpClient is the client to use. Default will be used if not provided.
	HttpClient *http.Client
}

// DefaultConfig returns a default configuration for the client, reading
// the address and token from the environment when set.
func DefaultConfig() *Config {
	config := &Config{
		Address: "http://127.0.0.1:8610",
	}
	if addr := os.Getenv(EnvAddress); addr != "" {
		config.Address = addr
	}
	if token := os.Getenv(EnvToken); token != "" {
		config.Token = token
	}
	return config
}

// Client provides a client to the Labrador API.
type Client struct {
	config Config
}

// NewClient returns a new client.
func NewClient(config *Config) (*Client, error) {
	defConfig := DefaultConfig()

	if config.Address == "" {
		config.Address = defConfig.Address
	}
	if _, err := url.Parse(config.Address); err != nil {
		return nil, fmt.Errorf("invalid address '%s': %w", config.Address, err)
	}
	if config.HttpClient == nil {
		config.HttpClient = cleanhttp.DefaultPooledClient()
	}

	client := &Client{
		config: *config,
	}
	return client, nil
}

// Address returns the address of the Labrador agent.
func (c *Client) Address() string {
	return c.config.Address
}

// SetToken replaces the bearer token used for subsequent requests. A
// typical flow is NewClient, Login, SetToken.
func (c *Client) SetToken(token string) {
	c.config.Token = token
}

// APIError is a decoded error envelope from the agent.
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Unexpected response code: %d (%s)", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is an APIError carrying a 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

type successEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// get issues a GET against path and decodes the envelope's data into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post issues a POST with a JSON body and decodes the data into out. A nil
// out discards the payload.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// put issues a PUT with a JSON body.
func (c *Client) put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// delete issues a DELETE with an optional JSON body.
func (c *Client) delete(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.Address+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.config.HttpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
			return env.Error
		}
		return &APIError{
			Message:    strings.TrimSpace(string(raw)),
			StatusCode: resp.StatusCode,
		}
	}

	if out == nil {
		return nil
	}
	var env successEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(env.Data, out)
}

// wsAddress rewrites the configured address for a websocket dial.
func (c *Client) wsAddress() string {
	addr := c.config.Address
	switch {
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimPrefix(addr, "http://")
	default:
		return "ws://" + addr
	}
}
