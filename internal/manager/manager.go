// Package manager implements the Worker Manager: it owns N Grunt Worker
// child processes, subscribes to the shared task channel, and round-robin
// fans messages out to each Grunt's private channel.
//
// This generalizes a "Competing Consumers" startConsumer worker pool
// (and its signal-driven graceful shutdown) from N goroutines competing
// for one Redis list to N OS child processes, each owning a private
// pub/sub channel, per the two-tier process topology below.
package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiotaskq-go/aiotaskq/internal/backoff"
	"github.com/aiotaskq-go/aiotaskq/internal/chans"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
)

// GruntSpawner starts one Grunt Worker child process and returns its
// started *exec.Cmd (whose Process.Pid names the Grunt's private
// channel), an explicit process-launching seam so the Manager is not
// limited to any one spawn mechanism.
type GruntSpawner func(ctx context.Context) (*exec.Cmd, error)

// Config controls the Worker Manager's topology.
type Config struct {
	Concurrency       int
	ShutdownTimeout   time.Duration
	ReconnectBackoff  backoff.Strategy
	ReconnectAttempts int
}

// DefaultConfig returns sane defaults matching the reference
// implementation's documented values.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		ShutdownTimeout:   10 * time.Second,
		ReconnectBackoff:  backoff.NewExponentialStrategy(100*time.Millisecond, 2.0, 5*time.Second),
		ReconnectAttempts: 5,
	}
}

// Manager is the Worker Manager.
type Manager struct {
	t       transport.Transport
	spawn   GruntSpawner
	cfg     Config
	log     *zap.SugaredLogger
	mu      sync.Mutex
	procs   []*exec.Cmd
	counter int
}

// New constructs a Manager. spawn is invoked cfg.Concurrency times at
// Run, each call expected to exec a new Grunt Worker process.
func New(t transport.Transport, spawn GruntSpawner, cfg Config, log *zap.SugaredLogger) *Manager {
	return &Manager{t: t, spawn: spawn, cfg: cfg, log: log}
}

// Run spawns the Grunt pool, subscribes to the shared task channel, and
// fans out messages until ctx is cancelled (by the caller wiring
// signal.NotifyContext for SIGTERM/SIGINT), at which point it terminates
// every Grunt and waits up to ShutdownTimeout before returning.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.spawnGrunts(ctx); err != nil {
		return err
	}
	defer m.terminateGrunts()

	if err := m.t.Subscribe(ctx, chans.Tasks); err != nil {
		return fmt.Errorf("manager: failed to subscribe to %s: %w", chans.Tasks, err)
	}
	m.log.Infow("worker manager ready", "concurrency", m.cfg.Concurrency)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return m.dispatchLoop(gctx) })

	err := grp.Wait()
	if gctx.Err() != nil {
		// Cancellation (SIGTERM/SIGINT) is a clean shutdown, not an error.
		return nil
	}
	return err
}

func (m *Manager) dispatchLoop(ctx context.Context) error {
	attempts := 0
	for {
		msg, err := m.t.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			if attempts > m.cfg.ReconnectAttempts {
				return fmt.Errorf("manager: transport unavailable after %d attempts: %w", attempts, err)
			}
			wait := m.cfg.ReconnectBackoff.GetNextInterval(attempts)
			m.log.Warnw("transport poll failed, backing off", "attempt", attempts, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempts = 0

		pid := m.nextGrunt()
		if pid == 0 {
			m.log.Warnw("no grunt workers available to dispatch to")
			continue
		}
		if err := m.t.Publish(ctx, chans.GruntTasks(pid), msg.Data); err != nil {
			m.log.Errorw("failed to fan out task to grunt", "pid", pid, "error", err)
		}
	}
}

// nextGrunt selects the next Grunt in round-robin order, skipping any
// child process that has already exited.
func (m *Manager) nextGrunt() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.procs)
	if n == 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		m.counter = (m.counter + 1) % n
		cmd := m.procs[m.counter]
		if cmd.ProcessState == nil {
			return cmd.Process.Pid
		}
	}
	return 0
}

func (m *Manager) spawnGrunts(ctx context.Context) error {
	for i := 0; i < m.cfg.Concurrency; i++ {
		cmd, err := m.spawn(ctx)
		if err != nil {
			m.terminateGrunts()
			return fmt.Errorf("manager: failed to spawn grunt %d: %w", i, err)
		}
		m.procs = append(m.procs, cmd)
	}
	return nil
}

// terminateGrunts sends SIGTERM to every child, waits up to
// ShutdownTimeout, then escalates to SIGKILL for stragglers.
func (m *Manager) terminateGrunts() {
	m.mu.Lock()
	procs := append([]*exec.Cmd{}, m.procs...)
	m.mu.Unlock()

	for _, cmd := range procs {
		if cmd.Process == nil {
			continue
		}
		m.log.Debugw("sending SIGTERM to grunt", "pid", cmd.Process.Pid)
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		for _, cmd := range procs {
			_ = cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownTimeout):
		for _, cmd := range procs {
			if cmd.Process != nil && cmd.ProcessState == nil {
				m.log.Warnw("grunt did not exit in time, sending SIGKILL", "pid", cmd.Process.Pid)
				_ = cmd.Process.Kill()
			}
		}
	}
}

// ExecGruntSpawner returns a GruntSpawner that re-execs the current
// binary with the given hidden-subcommand args, the common pattern for a
// process-topology Manager that has no separate worker binary to launch.
func ExecGruntSpawner(args ...string) GruntSpawner {
	return func(ctx context.Context) (*exec.Cmd, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("manager: failed to resolve own executable: %w", err)
		}
		cmd := exec.Command(self, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("manager: failed to start grunt process: %w", err)
		}
		return cmd, nil
	}
}
