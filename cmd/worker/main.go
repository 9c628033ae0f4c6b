// Command worker is the CLI entrypoint: `worker <APP>` starts a Worker
// Manager that spawns --concurrency Grunt Worker child processes, each
// re-running this same binary under the hidden __grunt__ subcommand.
//
// Application registration (populating a Registry from an import path
// string) and general flag/logging bootstrap are collaborators outside
// this module's core; this command wires them using the demo task
// module as its one built-in application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aiotaskq-go/aiotaskq/internal/config"
	"github.com/aiotaskq-go/aiotaskq/internal/grunt"
	"github.com/aiotaskq-go/aiotaskq/internal/manager"
	"github.com/aiotaskq-go/aiotaskq/internal/testapp"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
	"github.com/aiotaskq-go/aiotaskq/registry"
)

const gruntSubcommand = "__grunt__"

func newLogger() *zap.SugaredLogger {
	lvl, err := zap.ParseAtomicLevel(config.LogLevel())
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

func loadApp(app string) (*registry.Registry, error) {
	reg := registry.New()
	switch app {
	case "testapp":
		testapp.Register(reg)
	default:
		return nil, fmt.Errorf("worker: cannot resolve application %q", app)
	}
	return reg, nil
}

func newRedisTransport(pollIntervalS float64) (transport.Transport, error) {
	return transport.New(config.BrokerURL(), time.Duration(pollIntervalS*float64(time.Second)))
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == gruntSubcommand {
		runGrunt(os.Args[2:])
		return
	}

	if err := newWorkerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newWorkerCommand() *cobra.Command {
	var (
		concurrency     int
		pollIntervalS   float64
		concurrencyType string
		workerRateLimit int
	)

	cmd := &cobra.Command{
		Use:   "worker <APP>",
		Short: "Start a Worker Manager for the named task application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := args[0]
			if concurrencyType != "multiprocessing" {
				return fmt.Errorf("worker: unsupported --concurrency-type %q", concurrencyType)
			}
			if _, err := config.Serialization(); err != nil {
				return err
			}
			if _, err := loadApp(app); err != nil {
				return err
			}

			log := newLogger()
			defer log.Sync()

			t, err := newRedisTransport(pollIntervalS)
			if err != nil {
				return err
			}
			defer t.Close()

			spawn := manager.ExecGruntSpawner(gruntSubcommand, app,
				fmt.Sprintf("--poll-interval-s=%f", pollIntervalS),
				fmt.Sprintf("--worker-rate-limit=%d", workerRateLimit),
			)

			cfg := manager.DefaultConfig()
			cfg.Concurrency = concurrency
			mgr := manager.New(t, spawn, cfg, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mgr.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of Grunt Worker processes")
	cmd.Flags().Float64Var(&pollIntervalS, "poll-interval-s", 0.01, "transport polling interval, in seconds")
	cmd.Flags().StringVar(&concurrencyType, "concurrency-type", "multiprocessing", "worker process topology (only multiprocessing is supported)")
	cmd.Flags().IntVar(&workerRateLimit, "worker-rate-limit", -1, "max in-flight task bodies per Grunt, -1 for no limit")

	return cmd
}

// runGrunt implements the hidden __grunt__ subcommand a Worker Manager
// execs to start one Grunt Worker child process: <APP> followed by the
// parent worker command's --poll-interval-s and --worker-rate-limit
// values.
func runGrunt(args []string) {
	fs := &cobra.Command{Use: gruntSubcommand, Args: cobra.ExactArgs(1)}
	var pollIntervalS float64
	var workerRateLimit int
	fs.Flags().Float64Var(&pollIntervalS, "poll-interval-s", 0.01, "")
	fs.Flags().IntVar(&workerRateLimit, "worker-rate-limit", -1, "")

	var app string
	fs.Run = func(cmd *cobra.Command, posArgs []string) { app = posArgs[0] }
	fs.SetArgs(args)
	if err := fs.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reg, err := loadApp(app)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger()
	defer log.Sync()

	t, err := newRedisTransport(pollIntervalS)
	if err != nil {
		log.Errorw("grunt failed to connect", "error", err)
		os.Exit(1)
	}
	defer t.Close()

	g := grunt.New(t, reg, workerRateLimit, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := g.Run(ctx); err != nil {
		log.Errorw("grunt exited with error", "error", err)
		os.Exit(1)
	}
}
