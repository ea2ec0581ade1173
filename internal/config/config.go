// Package config loads worker and server configuration from the
// environment: a cobra root command binds flags to viper, viper reads
// the environment, and a local .env file is loaded first unless running
// under a process supervisor.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the environment-driven configuration shared by cmd/worker and
// cmd/server.
type Config struct {
	DatabaseURL string // DATABASE_URL, required
	BrokerURL   string // RABBITMQ_URL, required
	ServerPort  int    // SERVER_PORT, default 8080
	WorkerID    string // WORKER_ID, required on worker processes
}

// BindFlags registers the environment-backed flags shared by both
// processes onto cmd, and binds them into v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().String("database-url", "", "Postgres connection string (DATABASE_URL)")
	cmd.PersistentFlags().String("rabbitmq-url", "", "RabbitMQ connection string (RABBITMQ_URL)")
	cmd.PersistentFlags().Int("port", 8080, "submission HTTP port (SERVER_PORT)")
	cmd.PersistentFlags().String("worker-id", "", "worker node identifier (WORKER_ID)")

	_ = v.BindPFlag("database-url", cmd.PersistentFlags().Lookup("database-url"))
	_ = v.BindPFlag("rabbitmq-url", cmd.PersistentFlags().Lookup("rabbitmq-url"))
	_ = v.BindPFlag("port", cmd.PersistentFlags().Lookup("port"))
	_ = v.BindPFlag("worker-id", cmd.PersistentFlags().Lookup("worker-id"))

	v.SetEnvKeyReplacer(strings.NewReplacer())
	_ = v.BindEnv("database-url", "DATABASE_URL")
	_ = v.BindEnv("rabbitmq-url", "RABBITMQ_URL")
	_ = v.BindEnv("port", "SERVER_PORT")
	_ = v.BindEnv("worker-id", "WORKER_ID")
	v.SetDefault("port", 8080)
}

// LoadDotEnv loads a local .env file unless a process supervisor owns
// the environment, in which case a stray .env in the working directory
// must not override it.
func LoadDotEnv() {
	if runningUnderSupervisor() {
		return
	}
	_ = godotenv.Load()
}

func runningUnderSupervisor() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("NOTIFY_SOCKET") != ""
}

// FromViper reads the bound values out of v and validates required fields.
// requireWorkerID is true for cmd/worker, false for cmd/server: WORKER_ID
// is required on worker processes only.
func FromViper(v *viper.Viper, requireWorkerID bool) (Config, error) {
	cfg := Config{
		DatabaseURL: v.GetString("database-url"),
		BrokerURL:   v.GetString("rabbitmq-url"),
		ServerPort:  v.GetInt("port"),
		WorkerID:    v.GetString("worker-id"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.BrokerURL == "" {
		return Config{}, errors.New("RABBITMQ_URL is required")
	}
	if requireWorkerID && cfg.WorkerID == "" {
		return Config{}, errors.New("WORKER_ID is required")
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8080
	}
	return cfg, nil
}
