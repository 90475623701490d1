package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ujala-development/serials/internal/di"
	"github.com/ujala-development/serials/internal/platform/config"
	"github.com/ujala-development/serials/internal/platform/observability"
	"github.com/ujala-development/serials/internal/platform/secrets"
	"github.com/ujala-development/serials/internal/services"
)

var version = "dev"

const usageHeader = `usage: serialctl [-env-file path] <command> [flags]

commands:
`

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	a := &app{stdout: os.Stdout, stderr: os.Stderr, logger: logger.Named("serialctl")}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", services.ErrorKind(err), err)
		}
		return 1
	}
	return 0
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	// configOpts and containerOpts are appended after the defaults; tests use them to
	// pin the environment and share a store between invocations.
	configOpts    []config.Option
	containerOpts []di.Option
}

type command struct {
	summary string
	run     func(ctx context.Context, svc di.Services, args []string) (any, error)
}

func (a *app) run(ctx context.Context, args []string) error {
	global := flag.NewFlagSet("serialctl", flag.ContinueOnError)
	global.SetOutput(a.stderr)
	envFile := global.String("env-file", ".env", "dotenv file read before the process environment")
	global.Usage = a.usage
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		a.usage()
		return flag.ErrHelp
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: unknown command %q", services.ErrValidation, name)
	}

	resolver, err := newSecretResolver(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			a.logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	loadOpts := append([]config.Option{config.WithEnvFile(*envFile), config.WithSecretResolver(resolver)}, a.configOpts...)
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		return err
	}

	logger := a.logger.With(zap.String("command", name))
	containerOpts := append([]di.Option{di.WithLogger(logger), di.WithVersion(version)}, a.containerOpts...)
	container, err := di.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			a.logger.Warn("container close error", zap.Error(err))
		}
	}()

	ctx, end := observability.StartSpan(ctx, "serialctl."+name,
		attribute.String("serialctl.backend", cfg.Storage.Backend))
	result, err := cmd.run(ctx, container.Services, global.Args()[1:])
	end(err)
	if err != nil {
		return err
	}
	return a.print(result)
}

func (a *app) print(result any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (a *app) usage() {
	fmt.Fprint(a.stderr, usageHeader)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.stderr, "  %-20s %s\n", name, commands[name].summary)
	}
}

// newSecretResolver reads its settings from the process environment because the resolver
// has to exist before configuration is loaded.
func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	project := strings.TrimSpace(os.Getenv("SERIALS_SECRETS_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
	}
	fallback := strings.TrimSpace(os.Getenv("SERIALS_SECRETS_FALLBACK_FILE"))
	if fallback == "" {
		fallback = ".secrets.local"
	}
	return secrets.NewResolver(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallback),
	)
}
