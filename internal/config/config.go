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

package config

// Config stores the fluxmqd broker configuration. It is loaded from a YAML
// file and environment variable overlay by configulator in cmd/root.go.
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`

	Node       Node       `yaml:"node"`
	Metadata   Metadata   `yaml:"metadata"`
	PubSub     PubSub     `yaml:"pubsub"`
	Database   Database   `yaml:"database"`
	Federation Federation `yaml:"federation"`
	Metrics    Metrics    `yaml:"metrics"`
	PProf      PProf      `yaml:"pprof"`
	Tracing    Tracing    `yaml:"tracing"`
	AdminHTTP  AdminHTTP  `yaml:"admin_http"`
}

// Node describes this broker instance's identity and client-facing listeners.
type Node struct {
	// ID uniquely identifies this instance in the OwnershipRegistry. Generated
	// at startup if empty.
	ID string `yaml:"id"`
	// AdvertiseHost is the host reported to clients in the address triplet
	// (host:port:sslPort) when this node owns a topic.
	AdvertiseHost string `yaml:"advertise_host"`
	// Bind is the plaintext TCP listener address.
	Bind string `yaml:"bind"`
	// Port is the plaintext TCP listener port.
	Port int `yaml:"port"`
	// TLSPort is the TLS listener port, sharing Bind. Zero disables TLS.
	TLSPort int `yaml:"tls_port"`
	// TLSCertFile and TLSKeyFile configure the TLS listener when TLSPort is set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	// LeaseTTL is how long an ownership claim survives without a heartbeat.
	LeaseTTL int `yaml:"lease_ttl_seconds"`
	// HeartbeatInterval is how often a claimed topic's lease is refreshed.
	// Must be meaningfully shorter than LeaseTTL.
	HeartbeatInterval int `yaml:"heartbeat_interval_seconds"`
}

// Metadata configures the watchable key-value store backing the
// OwnershipRegistry and SubscriptionManager's persisted state.
type Metadata struct {
	Backend MetadataBackend `yaml:"backend"`
	Redis   Redis           `yaml:"redis"`
}

// PubSub configures the tail-notification bus used to wake DeliveryManager
// waiters blocked on a topic's tail. Independent from Metadata so a single
// node deployment can run both backends in memory.
type PubSub struct {
	Backend MetadataBackend `yaml:"backend"`
	Redis   Redis           `yaml:"redis"`
}

// Redis configures a shared Redis connection used by Metadata and/or PubSub.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Database configures the durable message log storage.
type Database struct {
	Driver   DatabaseDriver `yaml:"driver"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Database string         `yaml:"database"`
	// ExtraParameters are appended verbatim to the driver DSN, e.g.
	// "sslmode=disable" for Postgres or "parseTime=true" for MySQL.
	ExtraParameters []string `yaml:"extra_parameters"`

	// CompactionInterval controls how often the compaction job checks for
	// messages older than a topic's retention bound. Zero disables compaction.
	CompactionIntervalSeconds int `yaml:"compaction_interval_seconds"`
	// ArchiveCompaction, when true, xz-compresses compacted batches to a cold
	// blob directory instead of discarding them outright.
	ArchiveCompaction bool   `yaml:"archive_compaction"`
	ArchiveDir        string `yaml:"archive_dir"`
}

// Federation configures cross-region delivery to hub subscribers.
type Federation struct {
	Enabled bool `yaml:"enabled"`
	// HubSubscriberIDPrefix marks reserved subscriber IDs routed to the
	// federation path instead of ordinary local delivery.
	HubSubscriberIDPrefix string `yaml:"hub_subscriber_id_prefix"`
	// Peers are the addresses of other regions' fluxmqd clusters this node
	// federates with as a hub subscriber client.
	Peers []string `yaml:"peers"`
	// ListenBind and ListenPort are the dedicated listener other regions'
	// Federators dial into, separate from Node.Port so operators can route
	// or firewall inter-region traffic independently of ordinary clients.
	ListenBind string `yaml:"listen_bind"`
	ListenPort int    `yaml:"listen_port"`
}

// Metrics configures the Prometheus metrics HTTP endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

// PProf configures the debug pprof HTTP endpoint.
type PProf struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

// Tracing configures OpenTelemetry trace export.
type Tracing struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// AdminHTTP configures the read-only operator dashboard and introspection API.
type AdminHTTP struct {
	Enabled    bool     `yaml:"enabled"`
	Bind       string   `yaml:"bind"`
	Port       int      `yaml:"port"`
	CORSHosts  []string `yaml:"cors_hosts"`
	RateLimit  int      `yaml:"rate_limit_per_minute"`
}
