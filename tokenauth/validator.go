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
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/keys"
	"github.com/tapis-project/tapis-service-go/metrics"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
)

// Validator verifies access tokens against the signing keys of the tenants in a Registry
type Validator struct {
	registry *tenants.Registry
	logger   *logs.Logger
	metrics  *metrics.Metrics

	parser *jwt.Parser
}

// Validate verifies the signature of token using the public key of the tenant it claims and returns its claims
//
//	If the signature is invalid or the tenant has no usable key, and the registry's refresh cooldown has elapsed,
//	the registry is refreshed and verification is retried once to pick up a rotated key. The retry is skipped when
//	the refreshed key is unchanged. Expired, malformed or otherwise invalid tokens never trigger a refresh.
func (v *Validator) Validate(token string) (*Claims, error) {
	claims, err := v.validate(token)
	v.metrics.TokenValidation(err)
	return claims, err
}

func (v *Validator) validate(token string) (*Claims, error) {
	if token == "" {
		return nil, tapiserrors.NewNoTokenError("no access token found in the request")
	}

	unverified, err := DecodeUnsafe(token)
	if err != nil {
		v.logger.Debugf("error decoding access token: %v", err)
		return nil, tapiserrors.NewAuthenticationError("could not parse the access token", err)
	}
	if unverified.TenantID == "" {
		return nil, tapiserrors.NewAuthenticationError("unable to process token: could not parse the tenant_id", nil)
	}

	claims, retry, err := v.verify(token, unverified.TenantID)
	if err == nil || !retry {
		return claims, err
	}

	staleKey := v.currentKey(unverified.TenantID)
	refreshed, refreshErr := v.registry.RefreshIfStale()
	if !refreshed {
		v.logger.Debugf("token verification failed with a recently refreshed key: %v", err)
		return nil, err
	}
	if refreshErr != nil {
		v.logger.Warnf("error refreshing tenants after token verification failure: %v", refreshErr)
		return nil, err
	}

	freshKey := v.currentKey(unverified.TenantID)
	if freshKey.Equal(staleKey) {
		v.logger.Debugf("signing key of tenant %s is unchanged after refreshing tenants", unverified.TenantID)
		return nil, err
	}

	v.logger.Infof("retrying token verification after signing key rotation for tenant %s: %s -> %s",
		unverified.TenantID, keyID(staleKey), keyID(freshKey))
	claims, _, err = v.verify(token, unverified.TenantID)
	return claims, err
}

// currentKey returns the signing key of tenantID in the registry, or nil if there is none
func (v *Validator) currentKey(tenantID string) *keys.PubKey {
	tenant, err := v.registry.GetTenant(tenantID)
	if err != nil {
		return nil
	}
	pubKey, err := tenant.PubKey()
	if err != nil {
		return nil
	}
	return pubKey
}

func keyID(key *keys.PubKey) string {
	if key == nil {
		return "none"
	}
	return key.KeyID
}

// verify checks the token signature with the current key of tenantID
//
//	The returned bool is true if the failure may be caused by a stale key
func (v *Validator) verify(token string, tenantID string) (*Claims, bool, error) {
	tenant, err := v.registry.GetTenant(tenantID)
	if err != nil {
		v.logger.Errorf("did not find the public key for tenant_id %s", tenantID)
		return nil, false, tapiserrors.NewAuthenticationError("unable to process token: unexpected tenant_id", err)
	}
	pubKey, err := tenant.PubKey()
	if err != nil {
		return nil, true, tapiserrors.NewAuthenticationError("could not find the public key for the tenant_id associated with the token", err)
	}

	claims := Claims{}
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		return pubKey.Key, nil
	})
	if err != nil {
		return nil, isSignatureError(err), tapiserrors.NewAuthenticationError("invalid access token", err)
	}
	if !parsed.Valid {
		return nil, false, tapiserrors.NewAuthenticationError("invalid access token", nil)
	}

	return &claims, false, nil
}

func isSignatureError(err error) bool {
	var validationErr *jwt.ValidationError
	if !errors.As(err, &validationErr) {
		return false
	}
	return validationErr.Errors&jwt.ValidationErrorSignatureInvalid != 0
}

// NewValidator creates a new Validator instance
func NewValidator(registry *tenants.Registry, logger *logs.Logger, metrics *metrics.Metrics) (*Validator, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenants registry is missing")
	}
	if logger == nil {
		logger = logs.NewLogger(registry.Service().Name, nil)
	}

	parser := &jwt.Parser{ValidMethods: []string{authutils.RS256}}
	return &Validator{registry: registry, logger: logger, metrics: metrics, parser: parser}, nil
}
