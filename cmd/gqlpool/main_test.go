package main

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/testutil"
)

// syncBuffer is written by the logger while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setupEnv(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	schemaFile := filepath.Join(t.TempDir(), "starwars.graphql")
	require.NoError(t, os.WriteFile(schemaFile, []byte(testutil.StarWarsSchema), 0600))

	t.Setenv("GQLPOOL_LISTEN", "127.0.0.1:0")
	t.Setenv("GQLPOOL_LOOPBACK_CONNECTIONS", "2")
	t.Setenv("GQLPOOL_DATABASE_DSN", ":memory:")
	t.Setenv("GQLPOOL_SCHEMA_FILE", schemaFile)
	t.Setenv("GQLPOOL_LOG_FORMAT", "text")
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-c", "gqlpool.yaml", "-debug", "-log-format", "text", "-validate"})
	require.NoError(t, err)
	assert.Equal(t, "gqlpool.yaml", cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.Validate)

	_, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	assert.NoError(t, validateFlags(&CLIConfig{}))
	assert.NoError(t, validateFlags(&CLIConfig{ShowVersion: true, ConfigPath: "missing.yaml"}))
	assert.Error(t, validateFlags(&CLIConfig{ConfigPath: "missing.yaml"}))
	assert.Error(t, validateFlags(&CLIConfig{LogLevel: "trace"}))
	assert.Error(t, validateFlags(&CLIConfig{LogFormat: "xml"}))
	assert.Error(t, validateFlags(&CLIConfig{Destroy: true, Validate: true}))
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out))
	assert.Equal(t, "gqlpool version "+Version+"\n", out.String())
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-h"}, &out))
	assert.Contains(t, out.String(), "GraphQL-to-SQL gateway")
	assert.Contains(t, out.String(), "-destroy-database")
}

func TestRun_PrintConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("GQLPOOL_NATS_USERNAME", "gateway")
	t.Setenv("GQLPOOL_NATS_PASSWORD", "hunter2")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-print-config"}, &out))
	assert.Contains(t, out.String(), `"listen": "127.0.0.1:0"`)
	assert.NotContains(t, out.String(), "hunter2")
}

func TestRun_Validate(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-validate"}, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "tables=2")

	t.Setenv("GQLPOOL_SCHEMA_FILE", filepath.Join(t.TempDir(), "missing.graphql"))
	err := run(context.Background(), []string{"-validate"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load schema")
}

func TestRun_InvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("GQLPOOL_DATABASE_DRIVER", "oracle")

	err := run(context.Background(), []string{"-validate"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_DestroyDatabase(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-destroy-database"}, &out))
	assert.Contains(t, out.String(), "Database destroyed")
}

func TestRun_ServeUntilCancelled(t *testing.T) {
	setupEnv(t)
	t.Setenv("GQLPOOL_HTTP_ENABLED", "true")
	t.Setenv("GQLPOOL_HTTP_ADDRESS", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, out) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("gqlpool started"))
	}, 10*time.Second, 20*time.Millisecond, out.String())
	assert.Contains(t, out.String(), "HTTP front-end started")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Contains(t, out.String(), "gqlpool shutdown complete")
}
