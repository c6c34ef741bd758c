package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/config"
	"gastos/internal/log"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GASTOS_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("GASTOS_TEST_VALUE", "")
	os.Unsetenv("GASTOS_TEST_VALUE")

	require.NoError(t, LoadEnvFile(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("GASTOS_TEST_VALUE"))
}

func TestSetupLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, log.ComponentApp, &buf)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestOpenStoreMemory(t *testing.T) {
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	res, err := OpenStore(context.Background(), &config.Config{DataBackend: "memory"}, logger)
	require.NoError(t, err)
	assert.NoError(t, res.Store.Ping(context.Background()))
	assert.NoError(t, res.Cleanup())

	_, err = OpenStore(context.Background(), &config.Config{DataBackend: "sheets"}, logger)
	assert.Error(t, err)
}

func TestConnectAMQPDisabled(t *testing.T) {
	logger := log.New(log.Config{Output: &bytes.Buffer{}})
	client, err := ConnectAMQP(&config.Config{}, logger)
	require.NoError(t, err)
	assert.Nil(t, client)
}
