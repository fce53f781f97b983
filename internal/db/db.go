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

// Package db opens and migrates the PersistenceGateway's durable message
// log database.
package db

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/db/models"
	"github.com/glebarez/sqlite"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const connsPerCPU = 10
const maxIdleTime = 10 * time.Minute

// brokerSettingsID is the fixed primary key of the BrokerSettings row. It is
// non-zero because gorm treats a zero key as unset and lets the database
// assign one on insert.
const brokerSettingsID = 1

// MakeDB opens the database configured by Config.Database, runs the message
// log migrations, and tunes the connection pool.
func MakeDB(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Tracing.OTLPEndpoint != "" {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to trace database: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	if cfg.Database.Driver != config.DatabaseDriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(runtime.GOMAXPROCS(0))
		sqlDB.SetMaxOpenConns(runtime.GOMAXPROCS(0) * connsPerCPU)
		sqlDB.SetConnMaxIdleTime(maxIdleTime)
	}

	return db, nil
}

func dialectorFor(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DatabaseDriverSQLite:
		return sqlite.Open(cfg.Database), nil
	case config.DatabaseDriverPostgres:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
		if len(cfg.ExtraParameters) > 0 {
			dsn += " " + strings.Join(cfg.ExtraParameters, " ")
		}
		return postgres.Open(dsn), nil
	case config.DatabaseDriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		if len(cfg.ExtraParameters) > 0 {
			dsn += "?" + strings.Join(cfg.ExtraParameters, "&")
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// migrate runs the message-log schema migration the first time MakeDB sees
// a fresh database, tracked by the BrokerSettings singleton row, and is a
// no-op on subsequent restarts against the same database.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.BrokerSettings{}); err != nil {
		return fmt.Errorf("failed to migrate broker settings: %w", err)
	}

	var settings models.BrokerSettings
	result := db.Where("id = ?", brokerSettingsID).Limit(1).Find(&settings)
	if result.Error != nil {
		return fmt.Errorf("failed to look up broker settings: %w", result.Error)
	}

	if result.RowsAffected > 0 && settings.HasBootstrapped {
		return nil
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202606010001_create_message_log",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Topic{}, &models.Message{}, &models.ConsumerOffset{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.ConsumerOffset{}, &models.Message{}, &models.Topic{})
			},
		},
	})
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate message log schema: %w", err)
	}

	settings.ID = brokerSettingsID
	settings.HasBootstrapped = true
	if err := db.Save(&settings).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to persist broker settings: %w", err)
	}
	return nil
}
