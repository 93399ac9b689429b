package spawn

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/randomizedcoder/go-app-spawn/internal/channel"
)

// newChannelPair creates the socketpair backing a helper's channel.
// Overridable for failure injection in tests.
var newChannelPair = channel.Pair

// Callbacks contains optional callback functions for helper lifecycle events.
type Callbacks struct {
	// OnStateChange is called when the helper state changes.
	OnStateChange func(oldState, newState State)

	// OnHelperStart is called after a helper process starts.
	OnHelperStart func(pid int)

	// OnHelperExit is called after a dead helper has been reaped.
	OnHelperExit func(pid int)
}

// Config holds configuration for creating a new Manager.
type Config struct {
	// HelperCommand is the path of the spawn helper program.
	HelperCommand string

	// Interpreter is the command used to run the helper (default "ruby").
	Interpreter string

	// LogFile receives the helper's stdout and stderr in append mode.
	// Empty means the helper inherits the current process's stderr.
	LogFile string

	// Environment is the runtime environment value exported to the helper.
	// Empty means the helper inherits the ambient setting.
	Environment string

	// EnvVar is the variable name carrying Environment (default "RAILS_ENV").
	EnvVar string

	Logger    *slog.Logger
	Callbacks Callbacks
}

// helper tracks one running helper process. The done channel closes when the
// process has been waited for, so liveness checks never block.
type helper struct {
	cmd  *exec.Cmd
	ch   *channel.Channel
	done chan struct{}
}

func (h *helper) pid() int {
	return h.cmd.Process.Pid
}

func (h *helper) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Manager owns a single spawn helper process and serializes all spawn
// requests against it. One Manager exists per server; it is created at
// server start and torn down with Close at server stop.
//
// All methods are safe for concurrent use. Spawn requests are totally
// ordered: at most one request/response exchange is in flight at a time, and
// every caller blocks on one mutex for the full duration of its request,
// including any helper rebuild and the unbounded reap of a dead helper.
type Manager struct {
	helperCommand string
	interpreter   string
	logFile       string
	environment   string
	envVar        string
	logger        *slog.Logger
	callbacks     Callbacks

	// mu serializes every use of h and needsRestart.
	mu           sync.Mutex
	h            *helper
	needsRestart bool

	state   State
	stateMu sync.RWMutex
}

// New creates a Manager and starts the initial helper process. A setup or
// log-file error during this first start is returned directly, unwrapped.
func New(cfg Config) (*Manager, error) {
	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = "ruby"
	}
	envVar := cfg.EnvVar
	if envVar == "" {
		envVar = "RAILS_ENV"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		helperCommand: cfg.HelperCommand,
		interpreter:   interpreter,
		logFile:       cfg.LogFile,
		environment:   cfg.Environment,
		envVar:        envVar,
		logger:        logger,
		callbacks:     cfg.Callbacks,
		needsRestart:  true,
		state:         StateNoHelper,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.restart(); err != nil {
		return nil, err
	}
	return m, nil
}

// Spawn asks the helper to create one worker for appRoot and returns its
// handle. Empty user/group mean "default identity", resolved by the helper.
//
// A helper that died since the last request is rebuilt before the exchange.
// If that rebuild fails, the error is a *RestartError wrapping the cause. Any
// failure during the exchange itself is reported once, wrapped in
// ErrTransport, and flags the helper for rebuild on the next call; Spawn
// never retries internally.
func (m *Manager) Spawn(appRoot, user, group string) (*WorkerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.h != nil && m.h.exited() {
		m.logger.Warn("helper_exited", "pid", m.h.pid())
		m.setState(StateDead)
		m.needsRestart = true
	}

	if m.needsRestart {
		if err := m.restart(); err != nil {
			return nil, &RestartError{Cause: err}
		}
	}

	handle, err := m.exchange(appRoot, user, group)
	if err != nil {
		m.needsRestart = true
		m.setState(StateDead)
		m.logger.Warn("spawn_failed", "app_root", appRoot, "error", err)
		return nil, err
	}

	m.logger.Debug("worker_spawned", "app_root", appRoot, "pid", handle.PID)
	return handle, nil
}

// exchange performs one request/response round trip. Caller holds m.mu and
// guarantees a running helper.
func (m *Manager) exchange(appRoot, user, group string) (*WorkerHandle, error) {
	ch := m.h.ch

	if err := ch.Write("spawn_application", appRoot, user, group); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	fields, ok, err := ch.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrTransport, ErrHelperExited)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty response from helper", ErrTransport)
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("%w: malformed worker pid %q", ErrTransport, fields[0])
	}

	sock, err := ch.ReadFileDescriptor()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return &WorkerHandle{AppRoot: appRoot, PID: pid, Socket: sock}, nil
}

// restart discards any tracked helper and starts a fresh one. Caller holds
// m.mu. On failure no helper is tracked and needsRestart stays true, so the
// next spawn request retries.
func (m *Manager) restart() error {
	if m.h != nil {
		old := m.h
		pid := old.pid()
		old.ch.Close()
		m.logger.Debug("helper_reaping", "pid", pid)
		// Reap is blocking and unbounded, matching the protocol contract; a
		// helper that ignores the closed channel stalls every caller.
		<-old.done
		m.h = nil
		m.logger.Info("helper_reaped", "pid", pid)
		if m.callbacks.OnHelperExit != nil {
			m.callbacks.OnHelperExit(pid)
		}
	}

	m.needsRestart = true
	m.setState(StateStarting)

	ch, peer, err := newChannelPair()
	if err != nil {
		m.setState(StateNoHelper)
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	var logFile *os.File
	if m.logFile != "" {
		// Opened before the helper is created so the failure is observable
		// here rather than lost inside the child.
		logFile, err = os.OpenFile(m.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			ch.Close()
			peer.Close()
			m.setState(StateNoHelper)
			return fmt.Errorf("%w: %w", ErrLogFile, err)
		}
	}

	cmd := exec.Command(m.interpreter, m.helperCommand)
	cmd.Stdin = peer
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		// stdout merges into the current stderr either way.
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	if m.environment != "" {
		cmd.Env = append(os.Environ(), m.envVar+"="+m.environment)
	}

	// Only the three standard streams are inherited: both socketpair ends are
	// close-on-exec and no ExtraFiles are passed, so parent descriptors never
	// leak into the long-lived helper. An exec failure inside the child is
	// not reported here; it surfaces as ErrHelperExited on the first
	// exchange.
	if err := cmd.Start(); err != nil {
		ch.Close()
		peer.Close()
		if logFile != nil {
			logFile.Close()
		}
		m.setState(StateNoHelper)
		return fmt.Errorf("%w: start %s %s: %w", ErrSetup, m.interpreter, m.helperCommand, err)
	}

	// Parent copies; the child holds its own.
	peer.Close()
	if logFile != nil {
		logFile.Close()
	}

	h := &helper{cmd: cmd, ch: ch, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(h.done)
	}()

	m.h = h
	m.needsRestart = false
	m.setState(StateRunning)

	m.logger.Info("helper_started",
		"pid", h.pid(),
		"interpreter", m.interpreter,
		"helper", m.helperCommand,
		"environment", m.environment,
	)
	if m.callbacks.OnHelperStart != nil {
		m.callbacks.OnHelperStart(h.pid())
	}
	return nil
}

// Close tears the manager down: the channel is closed and the helper is
// reaped. Calling Close with no helper running is a no-op, and Close is
// idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.h == nil {
		return nil
	}

	pid := m.h.pid()
	m.h.ch.Close()
	<-m.h.done
	m.h = nil
	m.needsRestart = true
	m.setState(StateNoHelper)

	m.logger.Info("helper_stopped", "pid", pid)
	if m.callbacks.OnHelperExit != nil {
		m.callbacks.OnHelperExit(pid)
	}
	return nil
}

// HelperPID returns the current helper's process id, or 0 if none is
// tracked.
func (m *Manager) HelperPID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.h == nil {
		return 0
	}
	return m.h.pid()
}

// State returns the current helper state. Unlike Spawn it never blocks on an
// in-flight exchange, so it is suitable for dashboards.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// setState updates the state and calls the callback if registered.
func (m *Manager) setState(newState State) {
	m.stateMu.Lock()
	oldState := m.state
	m.state = newState
	m.stateMu.Unlock()

	if m.callbacks.OnStateChange != nil && oldState != newState {
		m.callbacks.OnStateChange(oldState, newState)
	}
}
