package spawn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-app-spawn/internal/channel"
)

// The fake helper is this test binary re-executed with the helper role
// selected through the environment: the manager is configured with the test
// binary as the interpreter, so the child starts with its stdin bound to the
// channel like a real helper would.
const helperModeEnv = "SPAWN_TEST_HELPER_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		helperMain(mode)
		return
	}
	os.Exit(m.Run())
}

// helperMain implements the helper side of the protocol. Behavior by mode:
//
//	ok     - answer every request with pid 4242 and a fresh listening socket
//	seq    - like ok, but with a distinct pid per request
//	exit   - exit without answering (clean channel close)
//	badpid - answer with a non-numeric pid field
func helperMain(mode string) {
	ch, err := channel.New(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper: no channel on stdin:", err)
		os.Exit(3)
	}

	nextPID := 1000
	for {
		fields, ok, err := ch.Read()
		if err != nil || !ok {
			os.Exit(0)
		}
		if len(fields) != 4 || fields[0] != "spawn_application" {
			fmt.Fprintf(os.Stderr, "helper: unexpected request %q\n", fields)
			os.Exit(4)
		}

		switch mode {
		case "exit":
			os.Exit(1)
		case "badpid":
			if err := ch.Write("bogus"); err != nil {
				os.Exit(5)
			}
		case "seq":
			nextPID++
			if err := respondWithSocket(ch, nextPID); err != nil {
				os.Exit(5)
			}
		default: // "ok"
			if err := respondWithSocket(ch, 4242); err != nil {
				os.Exit(5)
			}
		}
	}
}

// respondWithSocket sends the worker pid plus a real listening TCP socket.
func respondWithSocket(ch *channel.Channel, pid int) error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer l.Close()
	f, err := l.(*net.TCPListener).File()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ch.Write(strconv.Itoa(pid)); err != nil {
		return err
	}
	return ch.WriteFileDescriptor(f)
}

func newTestManager(t *testing.T, mode string) *Manager {
	t.Helper()
	t.Setenv(helperModeEnv, mode)

	m, err := New(Config{
		HelperCommand: "fake-helper",
		Interpreter:   os.Args[0],
		Logger:        newTestLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpawn_ReturnsUsableHandle(t *testing.T) {
	m := newTestManager(t, "ok")

	handle, err := m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	defer handle.Close()

	if handle.PID != 4242 {
		t.Errorf("handle.PID = %d, want 4242", handle.PID)
	}
	if handle.AppRoot != "/app" {
		t.Errorf("handle.AppRoot = %q, want %q", handle.AppRoot, "/app")
	}

	// The passed descriptor must be an open socket usable for acceptance.
	l, err := handle.Listener()
	if err != nil {
		t.Fatalf("Listener() on passed descriptor failed: %v", err)
	}
	l.Close()

	if m.State() != StateRunning {
		t.Errorf("State() = %v after successful spawn, want %v", m.State(), StateRunning)
	}
}

func TestSpawn_HelperKilledBetweenRequests(t *testing.T) {
	m := newTestManager(t, "ok")

	if _, err := m.Spawn("/app", "", ""); err != nil {
		t.Fatalf("first Spawn() failed: %v", err)
	}

	firstPID := m.HelperPID()
	h := m.h
	if err := syscall.Kill(firstPID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill helper %d: %v", firstPID, err)
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper was not reaped after SIGKILL")
	}

	// The next request must transparently rebuild the helper and succeed.
	handle, err := m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() after helper death failed: %v", err)
	}
	handle.Close()

	if got := m.HelperPID(); got == 0 || got == firstPID {
		t.Errorf("HelperPID() = %d after restart, want a fresh pid != %d", got, firstPID)
	}
}

func TestSpawn_HelperExitsDuringExchange(t *testing.T) {
	m := newTestManager(t, "exit")

	_, err := m.Spawn("/app", "", "")
	if !errors.Is(err, ErrHelperExited) {
		t.Fatalf("Spawn() = %v, want ErrHelperExited", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Spawn() error does not match ErrTransport: %v", err)
	}
	if m.State() != StateDead {
		t.Errorf("State() = %v after exchange failure, want %v", m.State(), StateDead)
	}

	// The failing call reports once; the next call rebuilds and, with a
	// well-behaved helper, succeeds.
	t.Setenv(helperModeEnv, "ok")
	handle, err := m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() after rebuild failed: %v", err)
	}
	handle.Close()
}

func TestSpawn_MalformedResponse(t *testing.T) {
	m := newTestManager(t, "badpid")

	_, err := m.Spawn("/app", "", "")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Spawn() = %v, want ErrTransport", err)
	}
	if errors.Is(err, ErrHelperExited) {
		t.Errorf("malformed response misreported as helper exit: %v", err)
	}
}

func TestSpawn_RestartFailureIsWrapped(t *testing.T) {
	m := newTestManager(t, "ok")

	// Kill the helper, then make the rebuild fail at socketpair creation.
	h := m.h
	if err := syscall.Kill(m.HelperPID(), syscall.SIGKILL); err != nil {
		t.Fatalf("kill helper: %v", err)
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper was not reaped after SIGKILL")
	}

	defer func() { newChannelPair = channel.Pair }()
	newChannelPair = func() (*channel.Channel, *os.File, error) {
		return nil, nil, errors.New("simulated socketpair failure")
	}

	_, err := m.Spawn("/app", "", "")
	var restartErr *RestartError
	if !errors.As(err, &restartErr) {
		t.Fatalf("Spawn() = %v, want *RestartError", err)
	}
	if !errors.Is(err, ErrSetup) {
		t.Errorf("RestartError cause = %v, want ErrSetup", restartErr.Cause)
	}
	if m.HelperPID() != 0 {
		t.Errorf("HelperPID() = %d after failed restart, want 0", m.HelperPID())
	}
	if m.State() != StateNoHelper {
		t.Errorf("State() = %v after failed restart, want %v", m.State(), StateNoHelper)
	}

	// With the fault cleared the next call retries the rebuild and succeeds.
	newChannelPair = channel.Pair
	handle, err := m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() after clearing fault failed: %v", err)
	}
	handle.Close()
}

func TestNew_UnwritableLogFile(t *testing.T) {
	t.Setenv(helperModeEnv, "ok")

	_, err := New(Config{
		HelperCommand: "fake-helper",
		Interpreter:   os.Args[0],
		LogFile:       filepath.Join(t.TempDir(), "no-such-dir", "helper.log"),
		Logger:        newTestLogger(),
	})
	if !errors.Is(err, ErrLogFile) {
		t.Fatalf("New() = %v, want ErrLogFile", err)
	}
	var restartErr *RestartError
	if errors.As(err, &restartErr) {
		t.Errorf("initial start failure should not be wrapped in RestartError: %v", err)
	}
}

func TestNew_MissingInterpreter(t *testing.T) {
	t.Setenv(helperModeEnv, "ok")

	_, err := New(Config{
		HelperCommand: "fake-helper",
		Interpreter:   "/no/such/interpreter",
		Logger:        newTestLogger(),
	})
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("New() = %v, want ErrSetup", err)
	}
}

func TestSpawn_WritesHelperLogFile(t *testing.T) {
	t.Setenv(helperModeEnv, "ok")

	logPath := filepath.Join(t.TempDir(), "helper.log")
	m, err := New(Config{
		HelperCommand: "fake-helper",
		Interpreter:   os.Args[0],
		LogFile:       logPath,
		Logger:        newTestLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer m.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestSpawn_ConcurrentCallersAreSerialized(t *testing.T) {
	m := newTestManager(t, "seq")

	const goroutines = 8
	const perGoroutine = 4

	var mu sync.Mutex
	pids := make(map[int]int)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				handle, err := m.Spawn("/app", "", "")
				if err != nil {
					t.Errorf("concurrent Spawn() failed: %v", err)
					return
				}
				mu.Lock()
				pids[handle.PID]++
				mu.Unlock()
				handle.Close()
			}
		}()
	}
	wg.Wait()

	// Exchanges never interleave, so the sequential helper hands out each
	// pid exactly once.
	if len(pids) != goroutines*perGoroutine {
		t.Errorf("got %d distinct worker pids, want %d", len(pids), goroutines*perGoroutine)
	}
	for pid, n := range pids {
		if n != 1 {
			t.Errorf("worker pid %d returned %d times, want 1", pid, n)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	m := newTestManager(t, "ok")

	if err := m.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if m.HelperPID() != 0 {
		t.Errorf("HelperPID() = %d after Close, want 0", m.HelperPID())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() with no helper running = %v, want nil", err)
	}
}

func TestSpawn_EndToEndRestartScenario(t *testing.T) {
	m := newTestManager(t, "ok")

	handle, err := m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	if handle.PID != 4242 {
		t.Errorf("handle.PID = %d, want 4242", handle.PID)
	}
	handle.Close()

	// Kill the helper directly; the next call must restart and succeed
	// without the caller observing a restart error.
	h := m.h
	if err := syscall.Kill(m.HelperPID(), syscall.SIGKILL); err != nil {
		t.Fatalf("kill helper: %v", err)
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper was not reaped after SIGKILL")
	}

	handle, err = m.Spawn("/app", "", "")
	if err != nil {
		t.Fatalf("Spawn() after kill = %v, want transparent restart", err)
	}
	defer handle.Close()
	if handle.PID != 4242 {
		t.Errorf("handle.PID = %d after restart, want 4242", handle.PID)
	}
}
