// Command goguard-check runs one session check against a device's secure
// store and exits 0 when the session is authenticated, 1 otherwise.
//
// Configuration comes from GOGUARD_* environment variables; at minimum
// GOGUARD_REFRESH_URL must be set. The store is selected with -store:
//
//	goguard-check -store=file -file=$HOME/.goguard/creds
//	goguard-check -store=sqlite -sqlite=creds.db
//	goguard-check -store=redis -redis-addr=localhost:6379 -device=laptop
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store"
)

const passphraseEnv = "GOGUARD_FILE_PASSPHRASE"

type options struct {
	store     string
	file      string
	sqlite    string
	redisAddr string
	device    string
	timeout   time.Duration
	signOut   bool
	audit     bool
	verbose   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("goguard-check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.store, "store", "file", "secure store: file, sqlite, redis or memory")
	fs.StringVar(&opts.file, "file", "goguard.creds", "encrypted credential file (passphrase from "+passphraseEnv+")")
	fs.StringVar(&opts.sqlite, "sqlite", "goguard.db", "sqlite database path")
	fs.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "redis address")
	fs.StringVar(&opts.device, "device", "default", "device namespace in redis")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	fs.BoolVar(&opts.signOut, "sign-out", false, "delete stored tokens instead of checking")
	fs.BoolVar(&opts.audit, "audit", false, "log audit events")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := goGuard.LoadConfigFromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	s, closeStore, err := openStore(ctx, opts)
	if err != nil {
		logger.Error("open store", "store", opts.store, "error", err)
		return 2
	}
	defer closeStore()

	b := goGuard.New().WithStore(s).WithLogger(logger)
	if opts.audit {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(goGuard.NewSlogSink(logger.With("component", "audit")))
	}
	g, err := b.WithConfig(cfg).Build()
	if err != nil {
		logger.Error("build guard", "error", err)
		return 2
	}
	defer g.Close()

	if opts.signOut {
		if err := g.SignOut(ctx); err != nil {
			logger.Error("sign out", "error", err)
			return 1
		}
		fmt.Fprintln(stdout, "signed_out")
		return 0
	}

	res, err := g.Check(ctx)
	if err != nil && !errors.Is(err, goGuard.ErrNoStoredToken) {
		logger.Debug("check failed", "error", err)
	}
	fmt.Fprintln(stdout, res.Outcome)
	if !res.Authenticated {
		return 1
	}
	return 0
}

func openStore(ctx context.Context, opts options) (store.Store, func(), error) {
	switch opts.store {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "file":
		passphrase := os.Getenv(passphraseEnv)
		if passphrase == "" {
			return nil, nil, fmt.Errorf("%s is not set", passphraseEnv)
		}
		f, err := store.OpenFile(opts.file, []byte(passphrase), store.FileConfig{})
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	case "sqlite":
		db, err := store.OpenSQLite(ctx, opts.sqlite)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		return store.NewRedis(client, "", opts.device, 0), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", opts.store)
	}
}
