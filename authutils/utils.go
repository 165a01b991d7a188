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

package authutils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// RS256 represents a RSA key with SHA-256 signing method
	RS256 string = "RS256"

	// HeaderToken is the header carrying the access token
	HeaderToken string = "X-Tapis-Token"
	// HeaderTenant is the on-behalf-of tenant header
	HeaderTenant string = "X-Tapis-Tenant"
	// HeaderUser is the on-behalf-of user header
	HeaderUser string = "X-Tapis-User"
	// HeaderUserTokenHash is the header carrying a hash of the original user's access token
	HeaderUserTokenHash string = "X-Tapis-User-Token-Hash"

	// AccountTypeUser is the account type of user tokens
	AccountTypeUser string = "user"
	// AccountTypeService is the account type of service tokens
	AccountTypeService string = "service"

	// TenantIDPlaceholder is substituted with a tenant ID in the primary site's tenant base URL template
	TenantIDPlaceholder string = "${tenant_id}"
)

// ContainsString returns true if the provided value is in the provided slice
func ContainsString(slice []string, val string) bool {
	for _, v := range slice {
		if val == v {
			return true
		}
	}
	return false
}

// ReadResponseBody reads the body of a http.Response and returns it
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("response is nil")
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("%s - %s", resp.Status, string(body))
	}

	return body, nil
}

// DecodeSegment decodes a base64 encoded JWT segment, tolerating missing padding
//
//	Both the URL-safe and standard alphabets are accepted
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	data, err := base64.RawURLEncoding.DecodeString(seg)
	if err == nil {
		return data, nil
	}

	data, stdErr := base64.RawStdEncoding.DecodeString(seg)
	if stdErr != nil {
		return nil, fmt.Errorf("error decoding segment: %v", err)
	}
	return data, nil
}

// BasicAuth returns a value for the Authorization header using HTTP basic authentication
func BasicAuth(username string, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
