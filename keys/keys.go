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

package keys

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/tapis-project/tapis-service-go/authutils"
)

const (
	errUnsupportedAlg string = "unsupported algorithm"
)

// -------------------- PubKey --------------------

// PubKey represents a tenant's token signing public key
type PubKey struct {
	Key    *rsa.PublicKey `json:"-"`
	KeyPem string         `json:"key_pem" validate:"required"`
	Alg    string         `json:"alg" validate:"required"`
	KeyID  string         `json:"-"`
}

// NewPubKey decodes pemStr as an RS256 public key
func NewPubKey(pemStr string) (*PubKey, error) {
	key := PubKey{KeyPem: pemStr, Alg: authutils.RS256}
	err := key.Decode()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// Decode sets the "Key" by decoding "KeyPem" and sets the "KeyID"
func (p *PubKey) Decode() error {
	if p == nil {
		return fmt.Errorf("pubkey is nil")
	}
	if p.Alg != authutils.RS256 {
		return errors.New(errUnsupportedAlg)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePem(p.KeyPem)))
	if err != nil {
		p.Key = nil
		p.KeyID = ""
		return fmt.Errorf("error parsing key string: %v", err)
	}
	p.Key = key

	err = p.SetKeyFingerprint()
	if err != nil {
		p.Key = nil
		p.KeyID = ""
		return fmt.Errorf("error setting key fingerprint: %v", err)
	}

	return nil
}

// SetKeyFingerprint sets the "KeyID"
func (p *PubKey) SetKeyFingerprint() error {
	if p == nil || p.Key == nil {
		return fmt.Errorf("pubkey is nil")
	}

	hash := sha256.Sum256(x509.MarshalPKCS1PublicKey(p.Key))
	p.KeyID = "SHA256:" + base64.StdEncoding.EncodeToString(hash[:])
	return nil
}

// Equal determines whether the pubkey is equivalent to other
func (p *PubKey) Equal(other *PubKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Key == nil || other.Key == nil {
		return false
	}
	return p.Key.Equal(other.Key) && p.Alg == other.Alg && p.KeyID == other.KeyID
}

// normalizePem restores line breaks in keys that were stored on a single line
func normalizePem(keyPem string) string {
	keyPem = strings.TrimSpace(keyPem)
	if strings.Contains(keyPem, "\n") {
		return keyPem
	}
	return strings.ReplaceAll(keyPem, `\n`, "\n")
}
