package spawn

import (
	"net"
	"os"
)

// WorkerHandle identifies one freshly spawned application worker. It is
// produced once per successful spawn request and never mutated afterwards.
//
// Ownership of Socket transfers to the caller: the manager keeps no
// reference to it, and the caller (typically a pool) closes the handle when
// the worker is retired.
type WorkerHandle struct {
	// AppRoot is the application root the worker was spawned for.
	AppRoot string

	// PID is the worker's process id, as reported by the helper.
	PID int

	// Socket is the worker's listening socket descriptor, passed through
	// from the helper.
	Socket *os.File
}

// Listener wraps the worker's listening socket in a net.Listener. The
// descriptor is duplicated; the handle's Socket stays open and the caller
// owns both.
func (h *WorkerHandle) Listener() (net.Listener, error) {
	return net.FileListener(h.Socket)
}

// Close releases the listening socket descriptor.
func (h *WorkerHandle) Close() error {
	return h.Socket.Close()
}
