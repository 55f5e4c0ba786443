// Package config resolves configuration from a config file and
// environment variables and selects the storage and backend
// implementations at startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Storage selects the storage implementation: "memory" or "postgres".
	Storage string

	// Runner selects the execution backend: "docker" or "kubernetes".
	Runner string

	// Database connection string, required when Storage is "postgres".
	DatabaseURL string

	// Paths to the task and environment definition files.
	TasksFile        string
	EnvironmentsFile string

	// HTTP server port.
	HTTPPort int

	// Webhook callback URL; empty disables the callback.
	CallbackURL string

	// Kubernetes backend settings.
	KubernetesNamespace      string
	KubernetesServiceAccount string

	// OTLP collector address; empty disables tracing.
	CollectorAddr string
}

// Load reads configuration from cfgFile (or $HOME/.bobsled.yaml when
// empty), with environment variables taking precedence over the file.
// A .env file in the working directory is loaded first if present.
func Load(cfgFile string) (*Config, error) {
	// Missing .env is not an error; real environments set vars directly.
	_ = godotenv.Load()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".bobsled")
		v.SetConfigType("yaml")
		// The default config file is optional.
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("BOBSLED")
	v.AutomaticEnv()
	// DATABASE_URL and PORT are conventionally unprefixed.
	_ = v.BindEnv("database_url", "BOBSLED_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("port", "BOBSLED_PORT", "PORT")

	v.SetDefault("storage", "memory")
	v.SetDefault("runner", "docker")
	v.SetDefault("tasks_file", "tasks.yml")
	v.SetDefault("environments_file", "environments.yml")
	v.SetDefault("port", "6161")

	cfg := &Config{
		Storage:                  v.GetString("storage"),
		Runner:                   v.GetString("runner"),
		DatabaseURL:              v.GetString("database_url"),
		TasksFile:                v.GetString("tasks_file"),
		EnvironmentsFile:         v.GetString("environments_file"),
		CallbackURL:              v.GetString("callback_url"),
		KubernetesNamespace:      v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount: v.GetString("kubernetes_service_account"),
		CollectorAddr:            v.GetString("collector_addr"),
	}

	port, err := strconv.Atoi(v.GetString("port"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.HTTPPort = port

	if cfg.Storage == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when BOBSLED_STORAGE=postgres")
	}
	return cfg, nil
}
