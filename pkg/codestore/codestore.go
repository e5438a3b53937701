// Package codestore keeps short-lived codes keyed by identity. Entries carry the
// time they were issued and expire on read.
package codestore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey   = errors.New("codestore: key is required")
	ErrInvalidTTL = errors.New("codestore: ttl must be > 0")
)

type Entry struct {
	Code     string
	IssuedAt time.Time
}

type Store interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	// Get reports false when the key is absent or expired.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Consume deletes the entry only if it holds code, reporting whether it did.
	Consume(ctx context.Context, key, code string) (bool, error)
	Delete(ctx context.Context, key string) error
}
