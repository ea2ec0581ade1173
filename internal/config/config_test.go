package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoundViper() *viper.Viper {
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd, v)
	return v
}

func TestFromViperRequiresDatabaseURL(t *testing.T) {
	v := newBoundViper()
	v.Set("rabbitmq-url", "amqp://localhost")
	_, err := FromViper(v, false)
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestFromViperRequiresBrokerURL(t *testing.T) {
	v := newBoundViper()
	v.Set("database-url", "postgres://localhost/db")
	_, err := FromViper(v, false)
	assert.EqualError(t, err, "RABBITMQ_URL is required")
}

func TestFromViperRequiresWorkerIDOnlyWhenAsked(t *testing.T) {
	v := newBoundViper()
	v.Set("database-url", "postgres://localhost/db")
	v.Set("rabbitmq-url", "amqp://localhost")

	_, err := FromViper(v, false)
	require.NoError(t, err)

	_, err = FromViper(v, true)
	assert.EqualError(t, err, "WORKER_ID is required")
}

func TestFromViperDefaultsServerPort(t *testing.T) {
	v := newBoundViper()
	v.Set("database-url", "postgres://localhost/db")
	v.Set("rabbitmq-url", "amqp://localhost")
	v.Set("worker-id", "w1")

	cfg, err := FromViper(v, true)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "w1", cfg.WorkerID)
}
