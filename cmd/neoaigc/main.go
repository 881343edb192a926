package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xprocessing/neoaigc/internal/credentials"
	"github.com/xprocessing/neoaigc/internal/deferred"
	"github.com/xprocessing/neoaigc/internal/infra"
	"github.com/xprocessing/neoaigc/internal/login"
	"github.com/xprocessing/neoaigc/internal/notify"
	"github.com/xprocessing/neoaigc/internal/poller"
	"github.com/xprocessing/neoaigc/internal/remote"
	"github.com/xprocessing/neoaigc/internal/storage"
	"github.com/xprocessing/neoaigc/internal/workflow"
)

const usage = `usage: neoaigc <command> [flags]

commands:
  t2i        generate an image from a prompt
  i2i        restyle an image with a prompt
  matting    remove the background from one or more images
  faceswap   put a face onto a model photo
  tasks      list your jobs
  templates  list prompt templates for a modality
  export     download completed results into a zip archive
  whoami     show the logged-in user
  login      log in by scanning a QR code
  logout     forget the saved login
`

// app holds everything a command needs.
type app struct {
	cfg      *infra.Config
	logger   infra.Logger
	out      io.Writer
	printer  *notify.Printer
	client   *remote.Client
	creds    *credentials.Store
	registry *deferred.Registry
	svc      *workflow.Service
	driver   *login.Driver
	closers  []func()
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		exitWithError(err)
	}
	defer a.close()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		a.close()
		exitWithError(err)
	}
}

func newApp(ctx context.Context, cfg *infra.Config, out io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   infra.NewLoggerTo(os.Stderr, cfg.AppEnv).With().Str("cmd", "neoaigc").Logger(),
		out:      out,
		printer:  notify.NewPrinter(cfg.Locale),
		registry: deferred.NewRegistry(),
	}

	persister, err := a.persister(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.creds = credentials.NewStore(persister, &a.logger)
	if err := a.creds.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("saved login could not be read")
	}

	a.client = remote.NewClient(remote.Options{
		BaseURL:        cfg.APIBaseURL,
		Tokens:         a.creds,
		Logger:         &a.logger,
		RequestTimeout: cfg.HTTPTimeout,
		Locale:         a.printer.Language().String(),
	})

	var downloads *storage.FileStore
	if cfg.OutputDir != "" {
		downloads, err = storage.NewFileStore(cfg.OutputDir)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("output dir: %w", err)
		}
	}

	a.svc = workflow.NewService(workflow.Config{
		Remote:      a.client,
		Credentials: a.creds,
		Registry:    a.registry,
		Poll: poller.Options{
			Interval:    cfg.JobPollInterval,
			MaxAttempts: cfg.JobPollMaxAttempts,
			MaxDuration: cfg.JobPollMaxDuration,
		},
		Sink:            &terminalSink{out: out, printer: a.printer},
		Downloads:       downloads,
		DefaultProvider: cfg.Provider,
		Logger:          &a.logger,
	})

	a.driver = login.NewDriver(a.client, a.creds, a.registry, &terminalPresenter{out: out, printer: a.printer}, a.svc, login.Options{
		Interval: cfg.LoginPollInterval,
		Timeout:  cfg.LoginTimeout,
		Logger:   &a.logger,
	})
	return a, nil
}

// persister stores the login in Postgres when DATABASE_URL is set, so several
// machines can share one profile, and in the state directory otherwise.
func (a *app) persister(ctx context.Context) (credentials.Persister, error) {
	if a.cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		p := credentials.NewSQLPersister(infra.NewSQLRunner(pool, &a.logger), a.cfg.Profile)
		if err := p.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare credential table: %w", err)
		}
		return p, nil
	}
	store, err := storage.NewPrivateFileStore(a.cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return credentials.NewFilePersister(store, a.cfg.Profile), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "neoaigc: %v\n", err)
	os.Exit(1)
}
