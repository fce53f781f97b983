// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/fluxbroker/fluxmq>

// Package kv provides the watchable key-value store backing the
// OwnershipRegistry's ephemeral topic leases and the SubscriptionManager's
// persisted subscription metadata.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
)

// ErrNotFound is returned by Get for a key that does not exist or has
// expired, by both the memory and redis backends.
var ErrNotFound = errors.New("key not found")

// KV is a small key-value abstraction with TTL expiry and prefix scanning,
// sufficient to express ephemeral ownership leases without requiring a
// dedicated coordination service.
type KV interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetNX sets key to value only if it does not already exist, returning
	// true if the set happened. This is the primitive OwnershipRegistry
	// claims build on.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfEqual deletes key only if its current value equals expect,
	// returning whether the delete happened. Used to release an ownership
	// lease without clobbering a lease some other node has since claimed.
	DeleteIfEqual(ctx context.Context, key string, expect []byte) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Scan lists keys matching a glob-style prefix pattern (trailing "*").
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// RPush appends a value to a list stored under key. Returns the new length.
	RPush(ctx context.Context, key string, value []byte) (int64, error)
	// LDrain atomically returns all elements of the list and deletes the key.
	LDrain(ctx context.Context, key string) ([][]byte, error)
	Close() error
}

// MakeKV creates a new key-value store client for the Metadata section of
// the configuration.
func MakeKV(ctx context.Context, cfg *config.Config) (KV, error) {
	switch cfg.Metadata.Backend {
	case config.MetadataBackendRedis:
		redisKV, err := makeRedisKV(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv: %w", err)
		}
		return redisKV, nil
	default:
		return makeInMemoryKV(), nil
	}
}
