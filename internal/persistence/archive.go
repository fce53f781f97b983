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

package persistence

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxbroker/fluxmq/internal/db/models"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/ulikunitz/xz"
)

// Archiver xz-compresses a batch of messages a compaction sweep is about to
// delete into a cold blob directory, instead of discarding them outright.
type Archiver struct {
	dir string
}

// NewArchiver builds an Archiver writing to dir, creating it if absent.
func NewArchiver(dir string) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %q: %w", dir, err)
	}
	return &Archiver{dir: dir}, nil
}

// ArchiveBatch writes rows as an xz-compressed msgp stream named after
// topic and the SeqID range it covers.
func (a *Archiver) ArchiveBatch(topic string, rows []models.Message) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	var body []byte
	for i := range rows {
		msg := wire.Message{SeqID: rows[i].SeqID, Payload: rows[i].Payload}
		var err error
		body, err = msg.MarshalMsg(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode archived message: %w", err)
		}
	}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return "", fmt.Errorf("failed to compress archive batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive batch: %w", err)
	}

	name := fmt.Sprintf("%s_%d-%d_%d.xz", sanitizeTopic(topic), rows[0].SeqID, rows[len(rows)-1].SeqID, time.Now().UnixNano())
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return "", fmt.Errorf("failed to write archive file %q: %w", path, err)
	}
	return path, nil
}

func sanitizeTopic(topic string) string {
	out := make([]rune, 0, len(topic))
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// CompactWithArchive behaves like Compact but, for each topic with rows
// falling out of the retention window, writes them to archiver before
// deleting them from the log.
func (g *Gateway) CompactWithArchive(archiver *Archiver) (int64, error) {
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

		var rows []models.Message
		if err := g.db.Where("topic = ? AND seq_id < ?", t.Name, boundary).Order("seq_id asc").Find(&rows).Error; err != nil {
			return totalDeleted, fmt.Errorf("failed to load compaction batch for topic %q: %w", t.Name, err)
		}
		if len(rows) == 0 {
			continue
		}

		if _, err := archiver.ArchiveBatch(t.Name, rows); err != nil {
			if g.metrics != nil {
				g.metrics.RecordCompaction("archive_error", 0)
			}
			return totalDeleted, fmt.Errorf("failed to archive compaction batch for topic %q: %w", t.Name, err)
		}

		var freedBytes int64
		for i := range rows {
			freedBytes += int64(len(rows[i].Payload))
		}

		result := g.db.Where("topic = ? AND seq_id < ?", t.Name, boundary).Delete(&models.Message{})
		if result.Error != nil {
			if g.metrics != nil {
				g.metrics.RecordCompaction("error", 0)
			}
			return totalDeleted, fmt.Errorf("failed to compact topic %q: %w", t.Name, result.Error)
		}
		totalDeleted += result.RowsAffected
		if g.metrics != nil {
			g.metrics.RecordCompaction("archived", freedBytes)
		}
	}
	return totalDeleted, nil
}
