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

// Package models holds the gorm-mapped persistence types backing the
// PersistenceGateway's durable message log.
package models

import "time"

// Message is one append to a topic's durable log. SeqID is monotonically
// increasing per Topic and assigned by PersistenceGateway.Append, never by
// the database (auto-increment would not survive a leader failover cleanly
// across driver backends).
type Message struct {
	Topic       string `gorm:"primaryKey;index:idx_messages_topic_seq,priority:1"`
	SeqID       uint64 `gorm:"primaryKey;index:idx_messages_topic_seq,priority:2"`
	Payload     []byte
	PublishedAt time.Time
}

// TableName pins the table name so a driver's pluralization rules never
// cause a mismatch between migrations and queries.
func (Message) TableName() string {
	return "messages"
}

// Topic tracks a topic's retention bound and the high-water SeqID last
// handed out, so a new owner can resume Append without rescanning the log.
type Topic struct {
	Name          string `gorm:"primaryKey"`
	NextSeqID     uint64
	RetentionSecs int64
	CreatedAt     time.Time

	// ConsumedUntil is the minimum consume pointer across every known
	// subscriber, the GC-hint compaction uses alongside MessageBound.
	ConsumedUntil uint64
	// HasMessageBound and MessageBound implement setMessageBound/
	// clearMessageBound: once set, compaction may drop rows with
	// seq_id <= ConsumedUntil - MessageBound even if ConsumedUntil is high.
	HasMessageBound bool
	MessageBound    uint64
}

func (Topic) TableName() string {
	return "topics"
}

// ConsumerOffset is a subscriber's durable consume pointer for a topic,
// flushed lazily by SubscriptionManager rather than on every delivery.
type ConsumerOffset struct {
	Topic        string `gorm:"primaryKey"`
	SubscriberID string `gorm:"primaryKey"`
	SeqID        uint64
	UpdatedAt    time.Time
}

func (ConsumerOffset) TableName() string {
	return "consumer_offsets"
}
