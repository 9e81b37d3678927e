package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/domain"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(Options{ConnString: "postgres://docchat@localhost:5432/docchat?sslmode=disable", MaxConns: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(7), cfg.MaxConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, "docchat", cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = poolConfig(Options{ConnString: "postgres://docchat@localhost:notaport/docchat"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Port 1 on loopback refuses connections.
	_, err := New(ctx, Options{
		ConnString:      "postgres://docchat@127.0.0.1:1/docchat?sslmode=disable&connect_timeout=1",
		ConnectAttempts: 2,
		ConnectBackoff:  10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, domain.ErrPersistence)
}
