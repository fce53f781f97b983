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

// Package scheduler wires fluxmqd's periodic background jobs onto a
// gocron.Scheduler: deriving and flushing each owned topic's GC hint, and
// compacting the persisted log behind it.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxbroker/fluxmq/internal/subscription"
	"github.com/go-co-op/gocron/v2"
)

// GCHintSource is the subset of subscription.Manager the GC-hint job needs.
type GCHintSource interface {
	OwnedTopics() []string
	ComputeGCHint(topic string) (hint subscription.GCHint, ok bool)
}

// GCSink is the subset of persistence.Gateway the GC-hint job feeds.
type GCSink interface {
	SetConsumedUntil(topic string, seqID uint64) error
	SetMessageBound(topic string, bound uint64) error
	ClearMessageBound(topic string) error
}

// Compactor is the subset of persistence.Gateway the compaction job drives.
type Compactor interface {
	Compact() (int64, error)
}

// New builds a gocron.Scheduler.
func New() (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return s, nil
}

// ScheduleGCHints runs a GC-hint sweep across every topic this node owns
// every interval, feeding the result to sink. A zero interval disables it.
func ScheduleGCHints(s gocron.Scheduler, interval time.Duration, source GCHintSource, sink GCSink) error {
	if interval <= 0 {
		return nil
	}
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { runGCHints(source, sink) }),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule GC hint job: %w", err)
	}
	return nil
}

func runGCHints(source GCHintSource, sink GCSink) {
	for _, topic := range source.OwnedTopics() {
		hint, ok := source.ComputeGCHint(topic)
		if !ok {
			continue
		}
		if err := sink.SetConsumedUntil(topic, hint.ConsumedUntil); err != nil {
			slog.Error("failed to flush consumed-until GC hint", "topic", topic, "error", err)
			continue
		}
		if hint.HasBound {
			if err := sink.SetMessageBound(topic, hint.Bound); err != nil {
				slog.Error("failed to flush message-bound GC hint", "topic", topic, "error", err)
			}
			continue
		}
		if err := sink.ClearMessageBound(topic); err != nil {
			slog.Error("failed to clear message-bound GC hint", "topic", topic, "error", err)
		}
	}
}

// ScheduleCompaction runs a compaction sweep every interval. A zero
// interval disables it, matching Database.CompactionIntervalSeconds == 0.
func ScheduleCompaction(s gocron.Scheduler, interval time.Duration, compactor Compactor) error {
	if interval <= 0 {
		return nil
	}
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			deleted, err := compactor.Compact()
			if err != nil {
				slog.Error("compaction sweep failed", "error", err)
				return
			}
			if deleted > 0 {
				slog.Info("compaction sweep complete", "rows_deleted", deleted)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule compaction job: %w", err)
	}
	return nil
}
