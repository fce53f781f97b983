// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023 Jacob McSwain
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

//nolint:golint,gomnd
package client

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/ztrue/shutdown"
)

func main() { //nolint:golint,unused
	c := New("127.0.0.1:7300")

	sub, err := c.Subscribe(context.Background(), "orders", "example-consumer", SubscribeCreateOrAttach, wire.SubscriptionPreferences{}, func(msg *wire.Message) {
		fmt.Printf("seq=%d payload=%q\n", msg.SeqID, msg.Payload)
	})
	if err != nil {
		panic(err)
	}

	stop := func(sig os.Signal) {
		sub.Close()
	}

	defer stop(syscall.SIGINT)
	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGKILL, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
}
