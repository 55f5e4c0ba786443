package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage != "memory" {
		t.Errorf("expected storage memory, got %s", cfg.Storage)
	}
	if cfg.Runner != "docker" {
		t.Errorf("expected runner docker, got %s", cfg.Runner)
	}
	if cfg.TasksFile != "tasks.yml" {
		t.Errorf("expected tasks file tasks.yml, got %s", cfg.TasksFile)
	}
	if cfg.EnvironmentsFile != "environments.yml" {
		t.Errorf("expected environments file environments.yml, got %s", cfg.EnvironmentsFile)
	}
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.CallbackURL != "" {
		t.Errorf("expected empty callback URL, got %s", cfg.CallbackURL)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobsled.yaml")
	data := `storage: postgres
runner: kubernetes
database_url: postgres://filedb/bobsled
tasks_file: /etc/bobsled/tasks.yml
port: 8080
kubernetes_namespace: batch
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage != "postgres" {
		t.Errorf("expected storage postgres, got %s", cfg.Storage)
	}
	if cfg.Runner != "kubernetes" {
		t.Errorf("expected runner kubernetes, got %s", cfg.Runner)
	}
	if cfg.DatabaseURL != "postgres://filedb/bobsled" {
		t.Errorf("expected DatabaseURL from file, got %s", cfg.DatabaseURL)
	}
	if cfg.TasksFile != "/etc/bobsled/tasks.yml" {
		t.Errorf("expected tasks file from file, got %s", cfg.TasksFile)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.KubernetesNamespace != "batch" {
		t.Errorf("expected namespace batch, got %s", cfg.KubernetesNamespace)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobsled.yaml")
	data := "runner: docker\nport: 8080\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("BOBSLED_RUNNER", "kubernetes")
	t.Setenv("PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Runner != "kubernetes" {
		t.Errorf("expected env to override file runner, got %s", cfg.Runner)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected env to override file port, got %d", cfg.HTTPPort)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BOBSLED_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("BOBSLED_RUNNER", "kubernetes")
	t.Setenv("BOBSLED_TASKS_FILE", "/etc/bobsled/tasks.yml")
	t.Setenv("BOBSLED_ENVIRONMENTS_FILE", "/etc/bobsled/environments.yml")
	t.Setenv("PORT", "9999")
	t.Setenv("BOBSLED_CALLBACK_URL", "https://hooks.example.com/bobsled")
	t.Setenv("BOBSLED_KUBERNETES_NAMESPACE", "batch")
	t.Setenv("BOBSLED_KUBERNETES_SERVICE_ACCOUNT", "bobsled-runner")
	t.Setenv("BOBSLED_COLLECTOR_ADDR", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage != "postgres" {
		t.Errorf("expected storage postgres, got %s", cfg.Storage)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.Runner != "kubernetes" {
		t.Errorf("expected runner kubernetes, got %s", cfg.Runner)
	}
	if cfg.TasksFile != "/etc/bobsled/tasks.yml" {
		t.Errorf("expected tasks file from env, got %s", cfg.TasksFile)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.CallbackURL != "https://hooks.example.com/bobsled" {
		t.Errorf("expected callback URL from env, got %s", cfg.CallbackURL)
	}
	if cfg.KubernetesNamespace != "batch" {
		t.Errorf("expected namespace batch, got %s", cfg.KubernetesNamespace)
	}
	if cfg.KubernetesServiceAccount != "bobsled-runner" {
		t.Errorf("expected service account bobsled-runner, got %s", cfg.KubernetesServiceAccount)
	}
	if cfg.CollectorAddr != "otel-collector:4317" {
		t.Errorf("expected collector addr from env, got %s", cfg.CollectorAddr)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BOBSLED_STORAGE", "postgres")

	if _, err := Load(""); err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "not-a-port")

	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid PORT")
	}
}
