// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
)

// LoginResponse carries the minted bearer token and the resolved user.
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Login authenticates a username and password against the agent. A
// username the agent has never seen is registered with the supplied
// password. The token is returned rather than installed; call SetToken
// to authenticate subsequent requests with it.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var out LoginResponse
	if err := c.post(ctx, "/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
