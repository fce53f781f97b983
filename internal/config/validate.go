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

import "errors"

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrInvalidNodeBind indicates that the node's bind address is empty.
	ErrInvalidNodeBind = errors.New("invalid node bind address provided")
	// ErrInvalidNodePort indicates that the node's plaintext port is invalid.
	ErrInvalidNodePort = errors.New("invalid node port provided")
	// ErrInvalidNodeTLSPort indicates that the node's TLS port is invalid.
	ErrInvalidNodeTLSPort = errors.New("invalid node TLS port provided")
	// ErrTLSCertRequired indicates TLS was enabled without a certificate file.
	ErrTLSCertRequired = errors.New("tls_cert_file is required when tls_port is set")
	// ErrTLSKeyRequired indicates TLS was enabled without a key file.
	ErrTLSKeyRequired = errors.New("tls_key_file is required when tls_port is set")
	// ErrInvalidLeaseTTL indicates the ownership lease TTL is not positive.
	ErrInvalidLeaseTTL = errors.New("lease_ttl_seconds must be positive")
	// ErrHeartbeatNotShorterThanTTL indicates the heartbeat interval does not
	// leave margin below the lease TTL.
	ErrHeartbeatNotShorterThanTTL = errors.New("heartbeat_interval_seconds must be meaningfully shorter than lease_ttl_seconds")
	// ErrInvalidMetadataBackend indicates an unknown metadata backend was configured.
	ErrInvalidMetadataBackend = errors.New("invalid metadata backend provided")
	// ErrInvalidPubSubBackend indicates an unknown pubsub backend was configured.
	ErrInvalidPubSubBackend = errors.New("invalid pubsub backend provided")
	// ErrInvalidRedisHost indicates that the provided Redis host is not valid.
	ErrInvalidRedisHost = errors.New("invalid Redis host provided")
	// ErrInvalidRedisPort indicates that the provided Redis port is not valid.
	ErrInvalidRedisPort = errors.New("invalid Redis port provided")
	// ErrInvalidDatabaseDriver indicates that the provided database driver is not valid.
	ErrInvalidDatabaseDriver = errors.New("invalid database driver provided")
	// ErrInvalidDatabaseHost indicates that the provided database host is not valid.
	ErrInvalidDatabaseHost = errors.New("invalid database host provided")
	// ErrInvalidDatabasePort indicates that the provided database port is not valid.
	ErrInvalidDatabasePort = errors.New("invalid database port provided")
	// ErrInvalidDatabaseName indicates that the provided database name is not valid.
	ErrInvalidDatabaseName = errors.New("invalid database name provided")
	// ErrArchiveDirRequired indicates archive compaction was enabled without a directory.
	ErrArchiveDirRequired = errors.New("archive_dir is required when archive_compaction is enabled")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidPProfBindAddress indicates that the provided PProf server bind address is not valid.
	ErrInvalidPProfBindAddress = errors.New("invalid PProf server bind address provided")
	// ErrInvalidPProfPort indicates that the provided PProf server port is not valid.
	ErrInvalidPProfPort = errors.New("invalid PProf server port provided")
	// ErrInvalidAdminHTTPBindAddress indicates the admin HTTP bind address is not valid.
	ErrInvalidAdminHTTPBindAddress = errors.New("invalid admin HTTP bind address provided")
	// ErrInvalidAdminHTTPPort indicates the admin HTTP port is not valid.
	ErrInvalidAdminHTTPPort = errors.New("invalid admin HTTP port provided")
	// ErrHubSubscriberPrefixRequired indicates federation was enabled without a hub subscriber prefix.
	ErrHubSubscriberPrefixRequired = errors.New("hub_subscriber_id_prefix is required when federation is enabled")
	// ErrInvalidFederationListenPort indicates the federation listener port is not valid.
	ErrInvalidFederationListenPort = errors.New("invalid federation listen port provided")
)

// Validate validates the Redis configuration.
func (r Redis) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Host == "" {
		return ErrInvalidRedisHost
	}
	if r.Port <= 0 || r.Port > 65535 {
		return ErrInvalidRedisPort
	}
	return nil
}

// Validate validates the Node configuration.
func (n Node) Validate() error {
	if n.Bind == "" {
		return ErrInvalidNodeBind
	}
	if n.Port <= 0 || n.Port > 65535 {
		return ErrInvalidNodePort
	}
	if n.TLSPort != 0 {
		if n.TLSPort < 0 || n.TLSPort > 65535 {
			return ErrInvalidNodeTLSPort
		}
		if n.TLSCertFile == "" {
			return ErrTLSCertRequired
		}
		if n.TLSKeyFile == "" {
			return ErrTLSKeyRequired
		}
	}
	if n.LeaseTTL <= 0 {
		return ErrInvalidLeaseTTL
	}
	if n.HeartbeatInterval <= 0 || n.HeartbeatInterval*3 > n.LeaseTTL {
		return ErrHeartbeatNotShorterThanTTL
	}
	return nil
}

// Validate validates the Metadata configuration.
func (m Metadata) Validate() error {
	if m.Backend != MetadataBackendMemory && m.Backend != MetadataBackendRedis {
		return ErrInvalidMetadataBackend
	}
	if m.Backend == MetadataBackendRedis {
		return m.Redis.Validate()
	}
	return nil
}

// Validate validates the PubSub configuration.
func (p PubSub) Validate() error {
	if p.Backend != MetadataBackendMemory && p.Backend != MetadataBackendRedis {
		return ErrInvalidPubSubBackend
	}
	if p.Backend == MetadataBackendRedis {
		return p.Redis.Validate()
	}
	return nil
}

// Validate validates the Database configuration.
func (d Database) Validate() error {
	if d.Driver != DatabaseDriverSQLite &&
		d.Driver != DatabaseDriverPostgres &&
		d.Driver != DatabaseDriverMySQL {
		return ErrInvalidDatabaseDriver
	}
	if d.Driver != DatabaseDriverSQLite && d.Host == "" {
		return ErrInvalidDatabaseHost
	}
	if d.Driver != DatabaseDriverSQLite && (d.Port <= 0 || d.Port > 65535) {
		return ErrInvalidDatabasePort
	}
	if d.Database == "" {
		return ErrInvalidDatabaseName
	}
	if d.ArchiveCompaction && d.ArchiveDir == "" {
		return ErrArchiveDirRequired
	}
	return nil
}

// Validate validates the Federation configuration.
func (f Federation) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.HubSubscriberIDPrefix == "" {
		return ErrHubSubscriberPrefixRequired
	}
	if f.ListenPort <= 0 || f.ListenPort > 65535 {
		return ErrInvalidFederationListenPort
	}
	return nil
}

// Validate validates the Metrics configuration.
func (m Metrics) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Bind == "" {
		return ErrInvalidMetricsBindAddress
	}
	if m.Port <= 0 || m.Port > 65535 {
		return ErrInvalidMetricsPort
	}
	return nil
}

// Validate validates the PProf configuration.
func (p PProf) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Bind == "" {
		return ErrInvalidPProfBindAddress
	}
	if p.Port <= 0 || p.Port > 65535 {
		return ErrInvalidPProfPort
	}
	return nil
}

// Validate validates the AdminHTTP configuration.
func (a AdminHTTP) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Bind == "" {
		return ErrInvalidAdminHTTPBindAddress
	}
	if a.Port <= 0 || a.Port > 65535 {
		return ErrInvalidAdminHTTPPort
	}
	return nil
}

// Validate validates the entire configuration tree.
func (c Config) Validate() error {
	if c.LogLevel != LogLevelDebug &&
		c.LogLevel != LogLevelInfo &&
		c.LogLevel != LogLevelWarn &&
		c.LogLevel != LogLevelError {
		return ErrInvalidLogLevel
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Metadata.Validate(); err != nil {
		return err
	}
	if err := c.PubSub.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Federation.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.PProf.Validate(); err != nil {
		return err
	}
	if err := c.AdminHTTP.Validate(); err != nil {
		return err
	}
	return nil
}

// Default returns a Config populated with the same development-friendly
// defaults configulator falls back to when no file or environment override
// is present.
func Default() Config {
	return Config{
		LogLevel: LogLevelInfo,
		Node: Node{
			Bind:              "0.0.0.0",
			Port:              7300,
			LeaseTTL:          15,
			HeartbeatInterval: 3,
		},
		Metadata: Metadata{Backend: MetadataBackendMemory},
		PubSub:   PubSub{Backend: MetadataBackendMemory},
		Database: Database{
			Driver:   DatabaseDriverSQLite,
			Database: "fluxmq.sqlite3",
		},
		Federation: Federation{
			HubSubscriberIDPrefix: "hub:",
			ListenBind:            "0.0.0.0",
			ListenPort:            7310,
		},
		Metrics: Metrics{Enabled: true, Bind: "0.0.0.0", Port: 9300},
		PProf:   PProf{Enabled: false, Bind: "127.0.0.1", Port: 6060},
		AdminHTTP: AdminHTTP{
			Enabled:   true,
			Bind:      "0.0.0.0",
			Port:      7380,
			RateLimit: 120,
		},
	}
}
