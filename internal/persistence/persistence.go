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

// Package persistence implements the PersistenceGateway: a thin adapter
// over the durable message log's gorm models, owning SeqID assignment,
// ranged scans, consume-pointer bookkeeping and log compaction.
package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/fluxbroker/fluxmq/internal/db/models"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"gorm.io/gorm"
)

// ErrTopicNotFound indicates an operation referenced a topic with no row in
// the log, which Append and SetMessageBound create lazily but other
// operations treat as a genuine error.
var ErrTopicNotFound = errors.New("topic not found in message log")

// Gateway is the PersistenceGateway.
type Gateway struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// New builds a Gateway over an already-migrated database.
func New(db *gorm.DB, m *metrics.Metrics) *Gateway {
	return &Gateway{db: db, metrics: m}
}

// Append assigns the next SeqID for topic and durably writes payload,
// creating the topic's row on first reference. Exclusivity is guaranteed by
// the caller only ever calling Append for topics it owns, so the
// read-increment-write below never races across nodes.
func (g *Gateway) Append(topic string, payload []byte) (uint64, error) {
	var seqID uint64
	err := g.db.Transaction(func(tx *gorm.DB) error {
		var t models.Topic
		result := tx.Where("name = ?", topic).First(&t)
		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			t = models.Topic{Name: topic, NextSeqID: 0, CreatedAt: time.Now()}
			if err := tx.Create(&t).Error; err != nil {
				return fmt.Errorf("failed to create topic %q: %w", topic, err)
			}
		case result.Error != nil:
			return fmt.Errorf("failed to look up topic %q: %w", topic, result.Error)
		}

		seqID = t.NextSeqID
		if err := tx.Model(&models.Topic{}).Where("name = ?", topic).
			Update("next_seq_id", seqID+1).Error; err != nil {
			return fmt.Errorf("failed to advance seq id for topic %q: %w", topic, err)
		}

		msg := models.Message{Topic: topic, SeqID: seqID, Payload: payload, PublishedAt: time.Now()}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to append message to topic %q: %w", topic, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if g.metrics != nil {
		g.metrics.RecordPublish("accepted", len(payload))
	}
	return seqID, nil
}

// Scan returns up to limit messages from topic with SeqID >= fromSeqID,
// ordered by SeqID, honoring a client-side byte budget on top of the row
// limit so a single scan never returns an unbounded response.
func (g *Gateway) Scan(topic string, fromSeqID uint64, limit int, byteBudget int) ([]*models.Message, error) {
	var rows []models.Message
	query := g.db.Where("topic = ? AND seq_id >= ?", topic, fromSeqID).Order("seq_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to scan topic %q from seq %d: %w", topic, fromSeqID, err)
	}

	out := make([]*models.Message, 0, len(rows))
	used := 0
	for i := range rows {
		if byteBudget > 0 && used > 0 && used+len(rows[i].Payload) > byteBudget {
			break
		}
		out = append(out, &rows[i])
		used += len(rows[i].Payload)
	}
	return out, nil
}

// CurrentSeqID returns the next SeqID Append will assign for topic, i.e.
// one past the last durably appended message.
func (g *Gateway) CurrentSeqID(topic string) (uint64, error) {
	var t models.Topic
	result := g.db.Where("name = ?", topic).First(&t)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if result.Error != nil {
		return 0, fmt.Errorf("failed to look up topic %q: %w", topic, result.Error)
	}
	return t.NextSeqID, nil
}

// SetConsumedUntil records the minimum consume pointer across all known
// subscribers of topic, the low-water mark compaction treats as safe to
// reclaim up to.
func (g *Gateway) SetConsumedUntil(topic string, seqID uint64) error {
	result := g.db.Model(&models.Topic{}).Where("name = ?", topic).Update("consumed_until", seqID)
	if result.Error != nil {
		return fmt.Errorf("failed to update consumed_until for topic %q: %w", topic, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	if g.metrics != nil {
		g.metrics.RecordConsumePointerFlush()
	}
	return nil
}

// SetMessageBound sets topic's retained-message count, creating its row if
// this is the first time it is referenced.
func (g *Gateway) SetMessageBound(topic string, bound uint64) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		var t models.Topic
		result := tx.Where("name = ?", topic).First(&t)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			t = models.Topic{Name: topic, NextSeqID: 0, CreatedAt: time.Now()}
			if err := tx.Create(&t).Error; err != nil {
				return fmt.Errorf("failed to create topic %q: %w", topic, err)
			}
		} else if result.Error != nil {
			return fmt.Errorf("failed to look up topic %q: %w", topic, result.Error)
		}
		return tx.Model(&models.Topic{}).Where("name = ?", topic).
			Updates(map[string]any{"has_message_bound": true, "message_bound": bound}).Error
	})
}

// ClearMessageBound removes topic's retained-message count, making
// ConsumedUntil alone the compaction boundary.
func (g *Gateway) ClearMessageBound(topic string) error {
	result := g.db.Model(&models.Topic{}).Where("name = ?", topic).
		Updates(map[string]any{"has_message_bound": false, "message_bound": 0})
	if result.Error != nil {
		return fmt.Errorf("failed to clear message bound for topic %q: %w", topic, result.Error)
	}
	return nil
}

// Compact deletes messages that have fallen out of every topic's retention
// window: below ConsumedUntil unconditionally, and further bounded by
// MessageBound when one is set. It returns the number of rows deleted.
func (g *Gateway) Compact() (int64, error) {
	var topics []models.Topic
	if err := g.db.Find(&topics).Error; err != nil {
		return 0, fmt.Errorf("failed to list topics for compaction: %w", err)
	}

	var totalDeleted int64
	for _, t := range topics {
		boundary := t.ConsumedUntil
		if t.HasMessageBound && t.MessageBound < boundary {
			boundary = t.ConsumedUntil - t.MessageBound
		}
		if boundary == 0 {
			continue
		}
		result := g.db.Where("topic = ? AND seq_id < ?", t.Name, boundary).Delete(&models.Message{})
		if result.Error != nil {
			if g.metrics != nil {
				g.metrics.RecordCompaction("error", 0)
			}
			return totalDeleted, fmt.Errorf("failed to compact topic %q: %w", t.Name, result.Error)
		}
		totalDeleted += result.RowsAffected
	}
	if g.metrics != nil {
		g.metrics.RecordCompaction("ok", totalDeleted)
	}
	return totalDeleted, nil
}
