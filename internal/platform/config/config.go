package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultEnvironment      = "local"
	defaultLogLevel         = "info"
	defaultPostgresMaxConns = 10
	defaultPubSubTopic      = "serials-events"
	defaultAMQPExchange     = "serials_topic"
	defaultMaxUnitsPerOrder = 5000
	defaultTxAttempts       = 5
	defaultTxTimeout        = 15 * time.Second
	defaultSecretsFallback  = ".secrets.local"
)

// Storage backends.
const (
	StorageFirestore = "firestore"
	StoragePostgres  = "postgres"
	StorageMemory    = "memory"
)

// Event bus backends.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Storage     StorageConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Events      EventsConfig
	Engine      EngineConfig
	Secrets     SecretsConfig
}

// StorageConfig selects the order store and its transaction budget.
type StorageConfig struct {
	Backend    string
	TxAttempts int
	TxTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig stores connection parameters for the relational backend.
type PostgresConfig struct {
	DSN      string
	MaxConns int
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Backend string
	PubSub  PubSubConfig
	AMQP    AMQPConfig
}

// PubSubConfig configures the Google Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// EngineConfig holds allocation limits.
type EngineConfig struct {
	MaxUnitsPerOrder int
}

// SecretsConfig configures Secret Manager lookups for secret references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves secret references such as secret://serials/postgres-dsn.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function into a SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError reports a secret reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file read before the process environment.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load reads configuration with precedence dotenv < process env < explicit map.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "SERIALS_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		Storage: StorageConfig{
			Backend:    strings.ToLower(stringWithDefault(lookup, "SERIALS_STORAGE_BACKEND", StorageFirestore)),
			TxAttempts: intWithDefault(lookup, "SERIALS_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:  durationWithDefault(lookup, "SERIALS_TX_TIMEOUT", defaultTxTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "SERIALS_FIRESTORE_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: stringWithDefault(lookup, "SERIALS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      stringWithDefault(lookup, "SERIALS_POSTGRES_DSN", ""),
			MaxConns: intWithDefault(lookup, "SERIALS_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
		},
		Events: EventsConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "SERIALS_EVENTS_BACKEND", EventsNone)),
			PubSub: PubSubConfig{
				ProjectID: stringWithDefault(lookup, "SERIALS_PUBSUB_PROJECT_ID", ""),
				Topic:     stringWithDefault(lookup, "SERIALS_PUBSUB_TOPIC", defaultPubSubTopic),
			},
			AMQP: AMQPConfig{
				URL:      stringWithDefault(lookup, "SERIALS_AMQP_URL", ""),
				Exchange: stringWithDefault(lookup, "SERIALS_AMQP_EXCHANGE", defaultAMQPExchange),
			},
		},
		Engine: EngineConfig{
			MaxUnitsPerOrder: intWithDefault(lookup, "SERIALS_ENGINE_MAX_UNITS_PER_ORDER", defaultMaxUnitsPerOrder),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "SERIALS_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "SERIALS_SECRETS_FALLBACK_FILE", defaultSecretsFallback),
		},
	}

	if cfg.Events.PubSub.ProjectID == "" {
		cfg.Events.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{&cfg.Postgres.DSN, &cfg.Events.AMQP.URL}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HasSecretReferences reports whether any secret-capable key in values holds a reference.
// Callers use it to decide whether a Secret Manager client is needed before Load.
func HasSecretReferences(values map[string]string) bool {
	for _, key := range []string{"SERIALS_POSTGRES_DSN", "SERIALS_AMQP_URL"} {
		if isSecretReference(values[key]) {
			return true
		}
	}
	return false
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	switch cfg.Storage.Backend {
	case StorageFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoragePostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 {
			missing = append(missing, "Postgres.MaxConns")
		}
	case StorageMemory:
	default:
		missing = append(missing, "Storage.Backend")
	}
	if cfg.Storage.TxAttempts <= 0 {
		missing = append(missing, "Storage.TxAttempts")
	}
	if cfg.Storage.TxTimeout <= 0 {
		missing = append(missing, "Storage.TxTimeout")
	}

	switch cfg.Events.Backend {
	case EventsNone:
	case EventsPubSub:
		if cfg.Events.PubSub.ProjectID == "" {
			missing = append(missing, "Events.PubSub.ProjectID")
		}
		if cfg.Events.PubSub.Topic == "" {
			missing = append(missing, "Events.PubSub.Topic")
		}
	case EventsAMQP:
		if cfg.Events.AMQP.URL == "" {
			missing = append(missing, "Events.AMQP.URL")
		}
		if cfg.Events.AMQP.Exchange == "" {
			missing = append(missing, "Events.AMQP.Exchange")
		}
	default:
		missing = append(missing, "Events.Backend")
	}

	if cfg.Engine.MaxUnitsPerOrder <= 0 {
		missing = append(missing, "Engine.MaxUnitsPerOrder")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
