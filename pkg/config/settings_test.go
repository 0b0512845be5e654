package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func emptyEnvFile(t *testing.T) string {
	return writeFile(t, "empty.env", "")
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load("", emptyEnvFile(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.EngineID == "" {
		t.Error("Expected a generated engine id")
	}
	if s.Lock.Backend != LockBackendSQLite {
		t.Errorf("Expected sqlite lock backend, got %s", s.Lock.Backend)
	}
	if s.Stack.Timeout != time.Hour {
		t.Errorf("Expected a 60 minute default timeout, got %s", s.Stack.Timeout)
	}
	if s.Stack.PollInterval != time.Second {
		t.Errorf("Expected a 1s poll interval, got %s", s.Stack.PollInterval)
	}
}

func TestLoadGeneratesDistinctEngineIDs(t *testing.T) {
	env := emptyEnvFile(t)
	a, err := Load("", env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	b, err := Load("", env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if a.EngineID == b.EngineID {
		t.Errorf("Expected distinct engine ids, got %s twice", a.EngineID)
	}
}

func TestLoadLayers(t *testing.T) {
	path := writeFile(t, "stackforge.yaml", `
engine_id: engine-file
database_path: /tmp/file.db
lock:
  backend: redis
  redis:
    addr: redis:6379
nats:
  url: nats://nats:4222
  probe_timeout: 2s
stack:
  timeout: 30m
  poll_interval: 250ms
telemetry:
  logging:
    level: debug
`)
	env := writeFile(t, "test.env", "STACKFORGE_TEST_LAYER_DB_PATH=/tmp/dotenv.db\n")

	t.Setenv("STACKFORGE_ENGINE_ID", "engine-env")
	t.Setenv("STACKFORGE_DISABLE_ROLLBACK", "true")
	t.Setenv("STACKFORGE_STACK_TIMEOUT", "10m")

	s, err := Load(path, env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("STACKFORGE_TEST_LAYER_DB_PATH") })

	if s.EngineID != "engine-env" {
		t.Errorf("Expected the environment to win, got %s", s.EngineID)
	}
	if s.DatabasePath != "/tmp/file.db" {
		t.Errorf("Expected the file database path, got %s", s.DatabasePath)
	}
	if os.Getenv("STACKFORGE_TEST_LAYER_DB_PATH") != "/tmp/dotenv.db" {
		t.Error("Expected the dotenv file to be loaded into the environment")
	}
	if s.Lock.Backend != LockBackendRedis || s.Lock.Redis.Addr != "redis:6379" {
		t.Errorf("Unexpected lock settings: %+v", s.Lock)
	}
	if s.NATS.URL != "nats://nats:4222" || s.NATS.ProbeTimeout != 2*time.Second {
		t.Errorf("Unexpected NATS settings: %+v", s.NATS)
	}
	if s.Stack.Timeout != 10*time.Minute || s.Stack.PollInterval != 250*time.Millisecond || !s.Stack.DisableRollback {
		t.Errorf("Unexpected stack defaults: %+v", s.Stack)
	}
	if s.Telemetry.Logging.Level != "debug" {
		t.Errorf("Expected debug logging, got %s", s.Telemetry.Logging.Level)
	}
	if s.Telemetry.Metrics.Namespace != "stackforge" {
		t.Errorf("Expected untouched telemetry defaults, got namespace %q", s.Telemetry.Metrics.Namespace)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", file: "lock: [", wantErr: "failed to parse"},
		{name: "bad backend", file: "lock:\n  backend: etcd\n", wantErr: "Backend"},
		{name: "postgres without dsn", file: "lock:\n  backend: postgres\n", wantErr: "dsn"},
		{name: "bad engine id", env: map[string]string{"STACKFORGE_ENGINE_ID": "engine.a"}, wantErr: "EngineID"},
		{name: "bad nats url", env: map[string]string{"STACKFORGE_NATS_URL": "not a url"}, wantErr: "URL"},
		{name: "bad duration", env: map[string]string{"STACKFORGE_POLL_INTERVAL": "fast"}, wantErr: "POLL_INTERVAL"},
		{name: "zero poll interval", env: map[string]string{"STACKFORGE_POLL_INTERVAL": "0s"}, wantErr: "PollInterval"},
		{name: "bad bool", env: map[string]string{"STACKFORGE_DISABLE_ROLLBACK": "maybe"}, wantErr: "DISABLE_ROLLBACK"},
		{name: "bad redis db", env: map[string]string{"STACKFORGE_REDIS_DB": "x"}, wantErr: "REDIS_DB"},
		{name: "bad log level", env: map[string]string{"STACKFORGE_LOG_LEVEL": "loud"}, wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, "config.yaml", tt.file)
			}
			_, err := Load(path, emptyEnvFile(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFiles(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), emptyEnvFile(t)); err == nil {
		t.Error("Expected an error for a missing config file")
	}
	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected an error for an explicit missing env file")
	}
}
