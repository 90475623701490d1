package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"GOOGLE_CLOUD_PROJECT": "serials-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Storage.Backend != StorageFirestore {
		t.Errorf("expected firestore backend by default, got %s", cfg.Storage.Backend)
	}
	if cfg.Firestore.ProjectID != "serials-dev" {
		t.Errorf("expected firestore project to fall back to GOOGLE_CLOUD_PROJECT, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.TxAttempts != 5 || cfg.Storage.TxTimeout != 15*time.Second {
		t.Errorf("unexpected tx defaults: %+v", cfg.Storage)
	}
	if cfg.Events.Backend != EventsNone {
		t.Errorf("expected events disabled by default, got %s", cfg.Events.Backend)
	}
	if cfg.Events.PubSub.ProjectID != "serials-dev" || cfg.Events.PubSub.Topic != defaultPubSubTopic {
		t.Errorf("unexpected pubsub defaults: %+v", cfg.Events.PubSub)
	}
	if cfg.Events.AMQP.Exchange != defaultAMQPExchange {
		t.Errorf("unexpected amqp exchange: %s", cfg.Events.AMQP.Exchange)
	}
	if cfg.Engine.MaxUnitsPerOrder != 5000 {
		t.Errorf("unexpected max units: %d", cfg.Engine.MaxUnitsPerOrder)
	}
	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("unexpected postgres max conns: %d", cfg.Postgres.MaxConns)
	}
	if cfg.Secrets.FallbackFile != defaultSecretsFallback {
		t.Errorf("unexpected secrets fallback: %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"SERIALS_ENVIRONMENT":                "PROD",
		"SERIALS_STORAGE_BACKEND":            "postgres",
		"SERIALS_POSTGRES_DSN":               "secret://serials/postgres-dsn",
		"SERIALS_POSTGRES_MAX_CONNS":         "25",
		"SERIALS_EVENTS_BACKEND":             "amqp",
		"SERIALS_AMQP_URL":                   "sm://serials/amqp-url",
		"SERIALS_AMQP_EXCHANGE":              "factory_events",
		"SERIALS_ENGINE_MAX_UNITS_PER_ORDER": "800",
		"SERIALS_TX_ATTEMPTS":                "3",
		"SERIALS_TX_TIMEOUT":                 "2s",
		"LOG_LEVEL":                          "DEBUG",
	}
	secrets := map[string]string{
		"secret://serials/postgres-dsn": "postgres://serials@db/serials",
		"secret://serials/amqp-url":     "amqp://guest:guest@mq:5672/",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" || cfg.LogLevel != "debug" {
		t.Errorf("expected lowercased environment and level, got %s/%s", cfg.Environment, cfg.LogLevel)
	}
	if cfg.Postgres.DSN != "postgres://serials@db/serials" || cfg.Postgres.MaxConns != 25 {
		t.Errorf("unexpected postgres config: %+v", cfg.Postgres)
	}
	if cfg.Events.AMQP.URL != "amqp://guest:guest@mq:5672/" || cfg.Events.AMQP.Exchange != "factory_events" {
		t.Errorf("unexpected amqp config: %+v", cfg.Events.AMQP)
	}
	if cfg.Engine.MaxUnitsPerOrder != 800 {
		t.Errorf("unexpected max units: %d", cfg.Engine.MaxUnitsPerOrder)
	}
	if cfg.Storage.TxAttempts != 3 || cfg.Storage.TxTimeout != 2*time.Second {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
}

func TestLoadValidationPerBackend(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "firestore without project", env: map[string]string{}, field: "Firestore.ProjectID"},
		{name: "postgres without dsn", env: map[string]string{"SERIALS_STORAGE_BACKEND": "postgres"}, field: "Postgres.DSN"},
		{name: "unknown backend", env: map[string]string{"SERIALS_STORAGE_BACKEND": "mysql"}, field: "Storage.Backend"},
		{name: "pubsub without project", env: map[string]string{"SERIALS_STORAGE_BACKEND": "memory", "SERIALS_EVENTS_BACKEND": "pubsub"}, field: "Events.PubSub.ProjectID"},
		{name: "amqp without url", env: map[string]string{"SERIALS_STORAGE_BACKEND": "memory", "SERIALS_EVENTS_BACKEND": "amqp"}, field: "Events.AMQP.URL"},
		{name: "unknown events backend", env: map[string]string{"SERIALS_STORAGE_BACKEND": "memory", "SERIALS_EVENTS_BACKEND": "kafka"}, field: "Events.Backend"},
		{name: "non-positive units", env: map[string]string{"SERIALS_STORAGE_BACKEND": "memory", "SERIALS_ENGINE_MAX_UNITS_PER_ORDER": "0"}, field: "Engine.MaxUnitsPerOrder"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			found := false
			for _, f := range vErr.Fields() {
				if f == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %s in %v", tc.field, vErr.Fields())
			}
		})
	}
}

func TestLoadMemoryBackendNeedsNothing(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{"SERIALS_STORAGE_BACKEND": "memory"}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Storage.Backend)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"SERIALS_STORAGE_BACKEND": "postgres",
		"SERIALS_POSTGRES_DSN":    "secret://serials/postgres-dsn",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver-not-configured cause, got %v", err)
	}
	if sErr.Ref != "secret://serials/postgres-dsn" {
		t.Fatalf("unexpected ref %s", sErr.Ref)
	}
}

func TestLoadReadsDotEnvWithLowerPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local settings\nexport SERIALS_STORAGE_BACKEND=memory\nSERIALS_PUBSUB_TOPIC=\"from-file\"\nSERIALS_TX_ATTEMPTS=7\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"SERIALS_TX_ATTEMPTS": "2"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("expected backend from dotenv, got %s", cfg.Storage.Backend)
	}
	if cfg.Events.PubSub.Topic != "from-file" {
		t.Errorf("expected quoted topic to be unquoted, got %s", cfg.Events.PubSub.Topic)
	}
	if cfg.Storage.TxAttempts != 2 {
		t.Errorf("expected explicit map to win over dotenv, got %d", cfg.Storage.TxAttempts)
	}
}

func TestHasSecretReferences(t *testing.T) {
	if HasSecretReferences(map[string]string{"SERIALS_POSTGRES_DSN": "postgres://x"}) {
		t.Fatalf("plain dsn should not count as a reference")
	}
	if !HasSecretReferences(map[string]string{"SERIALS_AMQP_URL": "sm://serials/amqp"}) {
		t.Fatalf("sm:// reference should be detected")
	}
}
