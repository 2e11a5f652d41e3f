package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dealcoach/internal/config"
)

func TestValidate(t *testing.T) {
	t.Run("requires temporal", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.Path = "/tmp/sessions.db"

		err := validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "temporal.host_port")
	})

	t.Run("rejects process-local storage", func(t *testing.T) {
		cfg := config.Default()
		cfg.Temporal.HostPort = "localhost:7233"

		err := validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory storage")
	})

	t.Run("accepts shared storage", func(t *testing.T) {
		cfg := config.Default()
		cfg.Temporal.HostPort = "localhost:7233"
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.Path = "/tmp/sessions.db"

		assert.NoError(t, validate(cfg))
	})
}
