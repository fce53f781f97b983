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

// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/lmittmann/tint"
)

// Setup installs a tint-backed slog.Logger as the process default, selecting
// the output stream and level from cfg.LogLevel. Warn and Error route to
// stderr; Debug and Info route to stdout.
func Setup(level config.LogLevel) {
	slog.SetDefault(slog.New(handlerFor(level)))
}

func handlerFor(level config.LogLevel) slog.Handler {
	switch level {
	case config.LogLevelDebug:
		return tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug})
	case config.LogLevelInfo:
		return tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo})
	case config.LogLevelWarn:
		return tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn})
	case config.LogLevelError:
		return tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError})
	default:
		return tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo})
	}
}
