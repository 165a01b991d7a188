// Copyright 2024 The Tapis Project Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/tenants"
	"github.com/tapis-project/tapis-service-go/tokenauth"
)

const (
	tokensPath string = "/v3/tokens"

	// OperationCreateToken is the tokens service operation that creates a token pair
	OperationCreateToken string = "create_token"
	// OperationRefreshToken is the tokens service operation that refreshes a token pair
	OperationRefreshToken string = "refresh_token"
)

// -------------------- TokenIssuer --------------------

// TokenIssuer declares an interface to the remote service that issues service tokens
type TokenIssuer interface {
	// CreateToken creates a new token pair
	CreateToken(ctx context.Context, req CreateTokenRequest) (*ServiceTokens, error)
	// RefreshToken exchanges refreshToken for a new token pair
	RefreshToken(ctx context.Context, refreshToken string) (*ServiceTokens, error)
}

// CreateTokenRequest represents the body of a create token request
type CreateTokenRequest struct {
	TokenUsername        string `json:"token_username"`
	TokenTenantID        string `json:"token_tenant_id"`
	AccountType          string `json:"account_type"`
	AccessTokenTTL       int64  `json:"access_token_ttl"`
	GenerateRefreshToken bool   `json:"generate_refresh_token"`
	RefreshTokenTTL      int64  `json:"refresh_token_ttl"`
	TargetSiteID         string `json:"target_site_id"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokensResponse struct {
	Result struct {
		AccessToken struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		} `json:"access_token"`
		RefreshToken struct {
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int64  `json:"expires_in"`
		} `json:"refresh_token"`
	} `json:"result"`
	Message string `json:"message"`
}

// RemoteTokenIssuer provides a TokenIssuer implementation for the remote tokens service
//
//	Requests are addressed to the primary site admin tenant and identify as the implementing service. The client's
//	transport is expected to be a Transport, which routes each request to the site that must serve it.
type RemoteTokenIssuer struct {
	service  *tenants.Service
	password string

	client *http.Client
	logger *logs.Logger
}

// CreateToken implements TokenIssuer interface
func (r *RemoteTokenIssuer) CreateToken(ctx context.Context, req CreateTokenRequest) (*ServiceTokens, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshalling create token request: %v", err)
	}

	httpReq, err := r.newRequest(ctx, http.MethodPost, OperationCreateToken, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", authutils.BasicAuth(r.service.Name, r.password))

	return r.do(httpReq)
}

// RefreshToken implements TokenIssuer interface
func (r *RemoteTokenIssuer) RefreshToken(ctx context.Context, refreshToken string) (*ServiceTokens, error) {
	body, err := json.Marshal(refreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("error marshalling refresh token request: %v", err)
	}

	httpReq, err := r.newRequest(ctx, http.MethodPut, OperationRefreshToken, body)
	if err != nil {
		return nil, err
	}

	return r.do(httpReq)
}

func (r *RemoteTokenIssuer) newRequest(ctx context.Context, method string, operationID string, body []byte) (*http.Request, error) {
	ctx = WithOperation(WithServiceIdentity(ctx), tenants.ServiceTokens, operationID)
	baseURL := strings.TrimRight(r.service.PrimarySiteAdminBaseURL, "/")

	req, err := http.NewRequestWithContext(ctx, method, baseURL+tokensPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error formatting %s request: %v", operationID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (r *RemoteTokenIssuer) do(req *http.Request) (*ServiceTokens, error) {
	now := time.Now()
	r.logger.Debugf("requesting service tokens: %s %s", req.Method, req.URL.String())
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Errorf("error calling the tokens service: %v", err)
		return nil, fmt.Errorf("error requesting tokens: %v", err)
	}

	body, err := authutils.ReadResponseBody(resp)
	if err != nil {
		r.logger.Errorf("tokens service rejected %s request: %v", req.Method, err)
		return nil, fmt.Errorf("error requesting tokens: %v", err)
	}

	var tokensResp tokensResponse
	err = json.Unmarshal(body, &tokensResp)
	if err != nil {
		r.logger.Errorf("error on unmarshal tokens response: %v", err)
		return nil, fmt.Errorf("error on unmarshal tokens response: %v", err)
	}

	access := tokensResp.Result.AccessToken
	if access.AccessToken == "" {
		r.logger.Errorf("tokens response is missing an access token: %s", tokensResp.Message)
		return nil, fmt.Errorf("tokens response is missing an access token: %s", tokensResp.Message)
	}
	r.logger.Debugf("received service tokens with status %d", resp.StatusCode)

	tokens := ServiceTokens{AccessToken: AccessToken{Raw: access.AccessToken}}
	claims, err := tokenauth.DecodeUnsafe(access.AccessToken)
	if err == nil {
		tokens.AccessToken.Claims = claims
	}
	tokens.AccessToken.ExpiresAt = expiresAt(now, claims, access.ExpiresIn)

	refresh := tokensResp.Result.RefreshToken
	if refresh.RefreshToken != "" {
		refreshClaims, _ := tokenauth.DecodeUnsafe(refresh.RefreshToken)
		tokens.RefreshToken = RefreshToken{Raw: refresh.RefreshToken, ExpiresAt: expiresAt(now, refreshClaims, refresh.ExpiresIn)}
	}

	return &tokens, nil
}

// expiresAt prefers the exp claim of the token over the expires_in value of the response
func expiresAt(now time.Time, claims *tokenauth.Claims, expiresIn int64) time.Time {
	if claims != nil && claims.ExpiresAt > 0 {
		return time.Unix(claims.ExpiresAt, 0)
	}
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}

// NewRemoteTokenIssuer creates and configures a new RemoteTokenIssuer instance
//
//	If client is nil, http.DefaultClient is used
func NewRemoteTokenIssuer(service *tenants.Service, password string, client *http.Client, logger *logs.Logger) (*RemoteTokenIssuer, error) {
	if service == nil || service.Name == "" {
		return nil, fmt.Errorf("service is missing")
	}
	if service.PrimarySiteAdminBaseURL == "" {
		return nil, fmt.Errorf("primary site admin base URL is missing")
	}
	if password == "" {
		return nil, fmt.Errorf("service password is missing")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logs.NewLogger(service.Name, nil)
	}

	return &RemoteTokenIssuer{service: service, password: password, client: client, logger: logger}, nil
}
