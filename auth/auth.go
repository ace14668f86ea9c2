// Package auth issues and resolves the board's API keys.
//
// Keys are bearer credentials: any presented key that resolves is
// "authorized"; the board has no roles. A truncated form of the key
// doubles as the actor's default display identity when no explicit
// agent or poster name is supplied.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrKeyNotFound indicates the presented key is unknown.
	ErrKeyNotFound = errors.New("api key not found")
)

// KeyPrefix marks every issued key. Keys look like
// "ab_" + 48 hex characters.
const KeyPrefix = "ab_"

// displayLen is how many leading characters identify a key publicly.
const displayLen = 8

// Key is one issued credential.
type Key struct {
	// ID is the record id.
	ID string `json:"id"`

	// Key is the secret itself.
	Key string `json:"key"`

	// Email is an optional contact, unverified.
	Email string `json:"email,omitempty"`

	// IPAddress is the source address the key was minted from.
	IPAddress string `json:"ip_address,omitempty"`

	// CreatedAt is when the key was minted.
	CreatedAt time.Time `json:"created_at"`
}

// KeyStore persists issued keys.
type KeyStore interface {
	// InsertKey stores a newly minted key.
	InsertKey(ctx context.Context, key *Key) error

	// LookupKey retrieves a key record by the secret itself.
	// Returns ErrKeyNotFound if the key was never issued.
	LookupKey(ctx context.Context, key string) (*Key, error)
}

// Keyring mints and resolves API keys over a KeyStore.
type Keyring struct {
	store   KeyStore
	nowFunc func() time.Time
}

// NewKeyring creates a keyring over the given store.
func NewKeyring(store KeyStore) *Keyring {
	return &Keyring{
		store:   store,
		nowFunc: time.Now,
	}
}

// Mint issues a new key for the given source address. Email is optional
// and stored as supplied.
func (k *Keyring) Mint(ctx context.Context, email, ip string) (*Key, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}

	key := &Key{
		ID:        uuid.NewString(),
		Key:       KeyPrefix + hex.EncodeToString(raw),
		Email:     email,
		IPAddress: ip,
		CreatedAt: k.nowFunc(),
	}

	if err := k.store.InsertKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Resolve checks a presented key. A non-empty return means authorized.
// Returns ErrKeyNotFound for unknown or empty keys.
func (k *Keyring) Resolve(ctx context.Context, presented string) (*Key, error) {
	if presented == "" {
		return nil, ErrKeyNotFound
	}
	return k.store.LookupKey(ctx, presented)
}

// Display returns the truncated public form of a key, used as a default
// actor identity: the first few characters plus an ellipsis.
func Display(key string) string {
	if len(key) <= displayLen {
		return key
	}
	return key[:displayLen] + "..."
}
