package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Parley/internal/config"
)

func TestNewAppOpensConfiguredDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.LLMProvider = config.ProviderSimulated
	cfg.DatabasePath = filepath.Join(t.TempDir(), "app.db")

	a, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.DBClient)
	assert.Equal(t, "simulated", a.Provider.Name())
	assert.Nil(t, a.Exporter)
	assert.NotNil(t, a.Server)

	_, err = a.DBClient.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.Error(t, err)
}

func TestNewAppRejectsMissingDatabasePath(t *testing.T) {
	cfg := testConfig()
	cfg.LLMProvider = config.ProviderSimulated

	_, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "DATABASE_PATH")
}
