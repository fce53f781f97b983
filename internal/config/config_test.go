package config_test

import (
	"errors"
	"testing"

	"github.com/fluxbroker/fluxmq/internal/config"
)

func makeValidConfig() config.Config {
	return config.Config{
		LogLevel: config.LogLevelInfo,
		Node: config.Node{
			Bind:              "0.0.0.0",
			Port:              7300,
			LeaseTTL:          15,
			HeartbeatInterval: 3,
		},
		Metadata: config.Metadata{Backend: config.MetadataBackendMemory},
		PubSub:   config.PubSub{Backend: config.MetadataBackendMemory},
		Database: config.Database{
			Driver:   config.DatabaseDriverSQLite,
			Database: "test.db",
		},
	}
}

// --- Redis Validation ---

func TestRedisValidateDisabled(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: false}
	if err := r.Validate(); err != nil {
		t.Errorf("Expected nil error for disabled Redis, got %v", err)
	}
}

func TestRedisValidateEmptyHost(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: true, Host: "", Port: 6379}
	if !errors.Is(r.Validate(), config.ErrInvalidRedisHost) {
		t.Errorf("Expected ErrInvalidRedisHost, got %v", r.Validate())
	}
}

func TestRedisValidateInvalidPort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 70000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := config.Redis{Enabled: true, Host: "localhost", Port: tt.port}
			if !errors.Is(r.Validate(), config.ErrInvalidRedisPort) {
				t.Errorf("Expected ErrInvalidRedisPort for port %d, got %v", tt.port, r.Validate())
			}
		})
	}
}

func TestRedisValidateValid(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: true, Host: "localhost", Port: 6379}
	if err := r.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- Node Validation ---

func TestNodeValidateEmptyBind(t *testing.T) {
	t.Parallel()
	n := config.Node{Bind: "", Port: 7300, LeaseTTL: 15, HeartbeatInterval: 3}
	if !errors.Is(n.Validate(), config.ErrInvalidNodeBind) {
		t.Errorf("Expected ErrInvalidNodeBind, got %v", n.Validate())
	}
}

func TestNodeValidateInvalidPort(t *testing.T) {
	t.Parallel()
	n := config.Node{Bind: "0.0.0.0", Port: -1, LeaseTTL: 15, HeartbeatInterval: 3}
	if !errors.Is(n.Validate(), config.ErrInvalidNodePort) {
		t.Errorf("Expected ErrInvalidNodePort, got %v", n.Validate())
	}
}

func TestNodeValidateTLSPortWithoutCert(t *testing.T) {
	t.Parallel()
	n := config.Node{Bind: "0.0.0.0", Port: 7300, TLSPort: 7301, LeaseTTL: 15, HeartbeatInterval: 3}
	if !errors.Is(n.Validate(), config.ErrTLSCertRequired) {
		t.Errorf("Expected ErrTLSCertRequired, got %v", n.Validate())
	}
}

func TestNodeValidateHeartbeatNotShorterThanTTL(t *testing.T) {
	t.Parallel()
	n := config.Node{Bind: "0.0.0.0", Port: 7300, LeaseTTL: 10, HeartbeatInterval: 9}
	if !errors.Is(n.Validate(), config.ErrHeartbeatNotShorterThanTTL) {
		t.Errorf("Expected ErrHeartbeatNotShorterThanTTL, got %v", n.Validate())
	}
}

func TestNodeValidateValid(t *testing.T) {
	t.Parallel()
	n := config.Node{Bind: "0.0.0.0", Port: 7300, LeaseTTL: 15, HeartbeatInterval: 3}
	if err := n.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- Database Validation ---

func TestDatabaseValidateInvalidDriver(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: "invalid", Database: "test"}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseDriver) {
		t.Errorf("Expected ErrInvalidDatabaseDriver, got %v", d.Validate())
	}
}

func TestDatabaseValidateSQLiteNoHost(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverSQLite, Database: "test.db"}
	if err := d.Validate(); err != nil {
		t.Errorf("Expected nil error for SQLite without host, got %v", err)
	}
}

func TestDatabaseValidatePostgresEmptyHost(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverPostgres, Host: "", Port: 5432, Database: "test"}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseHost) {
		t.Errorf("Expected ErrInvalidDatabaseHost, got %v", d.Validate())
	}
}

func TestDatabaseValidateEmptyName(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverSQLite, Database: ""}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseName) {
		t.Errorf("Expected ErrInvalidDatabaseName, got %v", d.Validate())
	}
}

func TestDatabaseValidateArchiveCompactionWithoutDir(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverSQLite, Database: "test.db", ArchiveCompaction: true}
	if !errors.Is(d.Validate(), config.ErrArchiveDirRequired) {
		t.Errorf("Expected ErrArchiveDirRequired, got %v", d.Validate())
	}
}

// --- Federation Validation ---

func TestFederationValidateDisabled(t *testing.T) {
	t.Parallel()
	f := config.Federation{Enabled: false}
	if err := f.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestFederationValidateEnabledNoPrefix(t *testing.T) {
	t.Parallel()
	f := config.Federation{Enabled: true}
	if !errors.Is(f.Validate(), config.ErrHubSubscriberPrefixRequired) {
		t.Errorf("Expected ErrHubSubscriberPrefixRequired, got %v", f.Validate())
	}
}

// --- Metrics / PProf Validation ---

func TestMetricsValidateDisabled(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: false}
	if err := m.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestMetricsValidateValid(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "0.0.0.0", Port: 9000}
	if err := m.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestPProfValidateDisabled(t *testing.T) {
	t.Parallel()
	p := config.PProf{Enabled: false}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- Full Config Validation ---

func TestConfigValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.LogLevel = "invalid"
	if !errors.Is(c.Validate(), config.ErrInvalidLogLevel) {
		t.Errorf("Expected ErrInvalidLogLevel, got %v", c.Validate())
	}
}

func TestConfigValidateValid(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestConfigValidateAllLogLevels(t *testing.T) {
	t.Parallel()
	levels := []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError}
	for _, level := range levels {
		t.Run(string(level), func(t *testing.T) {
			t.Parallel()
			c := makeValidConfig()
			c.LogLevel = level
			if err := c.Validate(); err != nil {
				t.Errorf("Expected nil error for log level %s, got %v", level, err)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()
	c := config.Default()
	if err := c.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}
