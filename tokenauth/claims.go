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

package tokenauth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
)

// Claims represents the claims entity of a platform access token
type Claims struct {
	// Required Standard Claims: sub, iss, exp, jti
	TenantID    string `json:"tapis/tenant_id" validate:"required"`    // Tenant the token was issued by
	Username    string `json:"tapis/username" validate:"required"`     // Username of the token subject
	AccountType string `json:"tapis/account_type" validate:"required"` // "user" or "service"
	TokenType   string `json:"tapis/token_type,omitempty"`             // "access" or "refresh"

	Delegation    bool   `json:"tapis/delegation"`
	DelegationSub string `json:"tapis/delegation_sub,omitempty"`

	// Site the token was minted for. Only set on service tokens
	TargetSiteID string `json:"tapis/target_site,omitempty"`

	jwt.StandardClaims
}

// IsService returns true if the claims belong to a service token
func (c *Claims) IsService() bool {
	return c != nil && c.AccountType == authutils.AccountTypeService
}

// DecodeUnsafe returns the claims of token WITHOUT verifying its signature
//
//	The result must only be used to select the key the token is verified with
func DecodeUnsafe(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, tapiserrors.NewMalformedTokenError(fmt.Sprintf("invalid token format: expected 3 parts, got %d", len(parts)), nil)
	}

	data, err := authutils.DecodeSegment(parts[1])
	if err != nil {
		return nil, tapiserrors.NewMalformedTokenError("could not decode token payload", err)
	}

	var claims Claims
	err = json.Unmarshal(data, &claims)
	if err != nil {
		return nil, tapiserrors.NewMalformedTokenError("could not parse token payload", err)
	}

	return &claims, nil
}
