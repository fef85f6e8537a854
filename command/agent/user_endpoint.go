// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/hashicorp/labrador/labrador/structs"
)

// loginRequest is the POST /login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries the bearer token and the resolved user.
type loginResponse struct {
	Token string        `json:"token"`
	User  *structs.User `json:"user"`
}

// LoginRequest handles POST /login. Unknown usernames are registered with
// the supplied password; known usernames must present theirs.
func (s *HTTPServer) LoginRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	var args loginRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, err
	}

	user, token, err := s.agent.Server().Login(req.Context(), args.Username, args.Password)
	if err != nil {
		return nil, err
	}

	return &loginResponse{Token: token, User: user}, nil
}
