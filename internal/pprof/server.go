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

package pprof

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readTimeout = 3 * time.Second

// CreatePProfServer blocks serving the debug pprof routes on
// Config.PProf.Bind:Port until the listener fails. It returns nil
// immediately if pprof is disabled.
func CreatePProfServer(cfg *config.Config) error {
	if !cfg.PProf.Enabled {
		return nil
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("failed setting trusted proxies: %w", err)
	}

	if cfg.Tracing.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("fluxmqd-pprof"))
	}

	pprof.Register(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.PProf.Bind, cfg.PProf.Port),
		Handler:           r,
		ReadHeaderTimeout: readTimeout,
	}
	slog.Info("pprof server listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil {
		return fmt.Errorf("pprof server on %s: %w", server.Addr, err)
	}
	return nil
}
