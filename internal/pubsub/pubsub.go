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

// Package pubsub is the tail-notification bus that wakes DeliveryManager
// waiters blocked on a topic's tail after a publish. It carries no durable
// state: a message published while a subscriber is disconnected is only
// ever recovered by replaying the persisted log, never by pubsub replay.
package pubsub

import (
	"context"
	"fmt"

	"github.com/fluxbroker/fluxmq/internal/config"
)

// PubSub publishes topic tail-advance notifications and lets callers
// subscribe to them. Notifications are best-effort and may be coalesced or
// dropped for a slow subscriber; a correct caller always falls back to
// polling the persisted log on subscribe/reconnect.
type PubSub interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription is a single topic's notification feed.
type Subscription interface {
	Close() error
	Channel() <-chan []byte
}

// MakePubSub builds the tail-notification bus for the PubSub config section.
func MakePubSub(ctx context.Context, cfg *config.Config) (PubSub, error) {
	switch cfg.PubSub.Backend {
	case config.MetadataBackendRedis:
		ps, err := makePubSubFromRedis(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis pubsub: %w", err)
		}
		return ps, nil
	default:
		return makeInMemoryPubSub(), nil
	}
}
