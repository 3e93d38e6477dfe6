// Copyright 2025 shiioo
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

// Package secret is a versioned secret store: rotation bumps a new
// version, keeps the prior one reachable by version number, and
// exposes which secrets are due for rotation under their policy.
//
// The Encrypter behind it is pluggable. NewAESGCMCipher is the
// authenticated default; NewXORCipher is a transparent placeholder for
// tests and throwaway deployments.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// Encrypter is the cipher seam the store encrypts values through. It
// is intentionally symmetric and stateless per call.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// gcmCipher is AES-256-GCM with the key derived from arbitrary key
// material via SHA-256. A fresh nonce is generated per Encrypt and
// prepended to the ciphertext.
type gcmCipher struct {
	aead cipher.AEAD
}

// NewAESGCMCipher builds the authenticated default Encrypter.
func NewAESGCMCipher(key []byte) (Encrypter, error) {
	sum := sha256.Sum256(key)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcmCipher{aead: aead}, nil
}

func (c gcmCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c gcmCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, apierr.New(apierr.IntegrityViolation, "ciphertext shorter than nonce")
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, apierr.Newf(apierr.IntegrityViolation, "decrypt: %v", err)
	}
	return plaintext, nil
}

// xorCipher is a transparent placeholder with no authentication and no
// real confidentiality. Test and throwaway use only.
type xorCipher struct {
	key []byte
}

// NewXORCipher builds the placeholder Encrypter with the given key.
func NewXORCipher(key []byte) Encrypter {
	return xorCipher{key: key}
}

func (c xorCipher) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

func (c xorCipher) Encrypt(plaintext []byte) ([]byte, error) { return c.xor(plaintext), nil }
func (c xorCipher) Decrypt(ciphertext []byte) ([]byte, error) { return c.xor(ciphertext), nil }

// RotationPolicy controls NeedingRotation eligibility.
type RotationPolicy struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

// Version is one historical value of a secret.
type Version struct {
	Version      int        `json:"version"`
	Ciphertext   []byte     `json:"ciphertext"`
	ValueHash    string     `json:"value_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// Secret is a versioned, encrypted value plus its rotation policy.
type Secret struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	ValueHash      string         `json:"value_hash"`
	RotationPolicy RotationPolicy `json:"rotation_policy"`
	CreatedAt      time.Time      `json:"created_at"`
	LastRotatedAt  *time.Time     `json:"last_rotated_at,omitempty"`

	history []Version
}

// Store owns secrets and their encryption.
type Store struct {
	mu      sync.Mutex
	secrets map[string]*Secret
	enc     Encrypter
	now     func() time.Time
}

// New builds a Store using enc for at-rest encryption.
func New(enc Encrypter) *Store {
	return &Store{secrets: make(map[string]*Secret), enc: enc, now: time.Now}
}

// SetClock overrides the time source. Test-only seam.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func hashValue(v []byte) string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])
}

// Create stores a new secret at version 1.
func (s *Store) Create(id, name string, value []byte, policy RotationPolicy) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.secrets[id]; exists {
		return Secret{}, apierr.Newf(apierr.AlreadyExists, "secret %s already exists", id)
	}
	ct, err := s.enc.Encrypt(value)
	if err != nil {
		return Secret{}, apierr.Newf(apierr.Internal, "encrypt: %v", err)
	}
	now := s.now().UTC()
	hash := hashValue(value)
	sec := &Secret{
		ID: id, Name: name, Version: 1, ValueHash: hash, RotationPolicy: policy, CreatedAt: now,
		history: []Version{{Version: 1, Ciphertext: ct, ValueHash: hash, CreatedAt: now}},
	}
	s.secrets[id] = sec
	return s.metadataOf(sec), nil
}

func (s *Store) metadataOf(sec *Secret) Secret {
	cp := *sec
	cp.history = nil
	return cp
}

// Get returns metadata only (no decrypted value).
func (s *Store) Get(id string) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return Secret{}, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	return s.metadataOf(sec), nil
}

// GetValue returns the current decrypted value.
func (s *Store) GetValue(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return nil, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	return s.decryptVersion(sec, sec.Version)
}

// GetValueVersion returns the decrypted value at a specific version.
func (s *Store) GetValueVersion(id string, version int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return nil, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	return s.decryptVersion(sec, version)
}

func (s *Store) decryptVersion(sec *Secret, version int) ([]byte, error) {
	for _, v := range sec.history {
		if v.Version == version {
			return s.enc.Decrypt(v.Ciphertext)
		}
	}
	return nil, apierr.Newf(apierr.NotFound, "secret %s has no version %d", sec.ID, version)
}

// Rotate bumps the version, appends history, and marks the previous
// version deprecated_at=now.
func (s *Store) Rotate(id string, newValue []byte) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return Secret{}, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}

	now := s.now().UTC()
	for i := range sec.history {
		if sec.history[i].Version == sec.Version {
			sec.history[i].DeprecatedAt = &now
		}
	}

	ct, err := s.enc.Encrypt(newValue)
	if err != nil {
		return Secret{}, apierr.Newf(apierr.Internal, "encrypt: %v", err)
	}
	hash := hashValue(newValue)
	sec.Version++
	sec.ValueHash = hash
	sec.LastRotatedAt = &now
	sec.history = append(sec.history, Version{Version: sec.Version, Ciphertext: ct, ValueHash: hash, CreatedAt: now})

	return s.metadataOf(sec), nil
}

// List returns metadata for every secret.
func (s *Store) List() []Secret {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Secret, 0, len(s.secrets))
	for _, sec := range s.secrets {
		out = append(out, s.metadataOf(sec))
	}
	return out
}

// UpdatePolicy replaces a secret's rotation policy without rotating its
// value.
func (s *Store) UpdatePolicy(id string, policy RotationPolicy) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return Secret{}, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	sec.RotationPolicy = policy
	return s.metadataOf(sec), nil
}

// Delete removes a secret and its entire version history.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[id]; !ok {
		return apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	delete(s.secrets, id)
	return nil
}

// VersionHistory returns every recorded version's metadata (no
// ciphertext).
func (s *Store) VersionHistory(id string) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return nil, apierr.Newf(apierr.NotFound, "secret %s not found", id)
	}
	out := make([]Version, len(sec.history))
	for i, v := range sec.history {
		out[i] = Version{Version: v.Version, ValueHash: v.ValueHash, CreatedAt: v.CreatedAt, DeprecatedAt: v.DeprecatedAt}
	}
	return out, nil
}

// NeedingRotation returns every secret whose policy is enabled and
// whose last rotation is older than the policy interval (or that has
// never rotated, measured from creation).
func (s *Store) NeedingRotation() []Secret {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var out []Secret
	for _, sec := range s.secrets {
		if !sec.RotationPolicy.Enabled {
			continue
		}
		base := sec.CreatedAt
		if sec.LastRotatedAt != nil {
			base = *sec.LastRotatedAt
		}
		if now.Sub(base) >= sec.RotationPolicy.Interval {
			out = append(out, s.metadataOf(sec))
		}
	}
	return out
}
