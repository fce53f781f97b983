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

// Package ratelimit wires the admin HTTP surface's per-client request limiter.
package ratelimit

import (
	"time"

	ginratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// PerMinute returns a gin middleware limiting each client (keyed by remote
// IP) to limit requests per minute, backed by the rate limiter's in-memory
// store. The admin HTTP surface is read-only except for the websocket
// upgrade route, so this only needs to survive a single node's memory.
func PerMinute(limit uint) gin.HandlerFunc {
	store := ginratelimit.InMemoryStore(&ginratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: limit,
	})
	return ginratelimit.RateLimiter(store, &ginratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ginratelimit.Info) {
			c.JSON(429, gin.H{"error": "rate limit exceeded", "retry_after": time.Until(info.ResetTime).String()})
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
