// Package channel implements the duplex message channel between the spawn
// manager and its helper process.
//
// The transport is one end of a connected AF_UNIX stream socketpair, so the
// channel is private to the two processes and can carry file descriptors.
// Messages are framed as a 16-bit big-endian payload length followed by the
// payload: each string field terminated by a NUL byte. A file descriptor is
// transferred as SCM_RIGHTS ancillary data attached to a single carrier byte,
// read separately from the message that announced it.
//
// The protocol is strict request/response: a sender must not issue a second
// request before reading the prior response. The channel itself keeps no
// buffer beyond the one in-flight frame.
//
// This package requires SCM_RIGHTS descriptor passing and therefore builds
// only on Unix platforms.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// maxMessageSize is the largest payload a single frame can carry, fixed by
// the 16-bit length prefix.
const maxMessageSize = 0xffff

// ErrMessageTooLarge is returned by Write when the encoded fields exceed the
// 16-bit frame length.
var ErrMessageTooLarge = errors.New("channel: message exceeds frame size")

// ErrNoDescriptor is returned by ReadFileDescriptor when the peer did not
// attach a descriptor to its carrier byte.
var ErrNoDescriptor = errors.New("channel: no file descriptor attached")

// Channel is one endpoint of the duplex message channel.
// It is not safe for concurrent use; callers serialize access (the spawn
// manager holds its lock across every exchange).
type Channel struct {
	conn *net.UnixConn

	closeOnce sync.Once
	closeErr  error
}

// Pair creates a connected socketpair and returns the local endpoint as a
// Channel plus the peer endpoint as a plain *os.File, suitable for binding to
// a child process's standard input. Both ends are marked close-on-exec; the
// copy that exec.Cmd dup2's onto the child's fd 0 survives because dup2
// clears the flag on the destination.
func Pair() (*Channel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	local := os.NewFile(uintptr(fds[0]), "spawn-manager")
	peer := os.NewFile(uintptr(fds[1]), "spawn-helper")

	ch, err := New(local)
	if err != nil {
		local.Close()
		peer.Close()
		return nil, nil, err
	}
	return ch, peer, nil
}

// New wraps an already-open socket endpoint (for example the helper's stdin)
// in a Channel. The *os.File is duplicated by net.FileConn and closed; the
// returned Channel owns the duplicate.
func New(f *os.File) (*Channel, error) {
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("channel endpoint: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("channel endpoint: not a unix socket (%T)", conn)
	}
	return &Channel{conn: uc}, nil
}

// Write sends one framed message: the tag followed by the argument fields.
func (c *Channel) Write(name string, args ...string) error {
	size := len(name) + 1
	for _, a := range args {
		size += len(a) + 1
	}
	if size > maxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 2, 2+size)
	binary.BigEndian.PutUint16(buf, uint16(size))
	buf = append(buf, name...)
	buf = append(buf, 0)
	for _, a := range args {
		buf = append(buf, a...)
		buf = append(buf, 0)
	}

	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("channel write: %w", err)
	}
	return nil
}

// Read blocks until one complete framed message arrives and returns its
// fields in order. A clean close by the peer yields ok == false with a nil
// error, so callers can tell "helper exited" apart from an I/O fault. A close
// in the middle of a frame is an error.
func (c *Channel) Read() (fields []string, ok bool, err error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("channel read: %w", err)
	}

	size := binary.BigEndian.Uint16(hdr[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, false, fmt.Errorf("channel read: truncated message: %w", err)
	}

	// Each field is NUL-terminated, so a well-formed payload ends in NUL and
	// splits into the fields plus one trailing empty element.
	parts := strings.Split(string(payload), "\x00")
	if len(parts) < 2 || parts[len(parts)-1] != "" {
		return nil, false, errors.New("channel read: malformed message payload")
	}
	return parts[:len(parts)-1], true, nil
}

// WriteFileDescriptor transfers the given open descriptor to the peer,
// attached to a single carrier byte. The local descriptor remains open and
// owned by the caller.
func (c *Channel) WriteFileDescriptor(f *os.File) error {
	rights := unix.UnixRights(int(f.Fd()))
	if _, _, err := c.conn.WriteMsgUnix([]byte{0}, rights, nil); err != nil {
		return fmt.Errorf("channel send fd: %w", err)
	}
	return nil
}

// ReadFileDescriptor retrieves exactly one descriptor attached by the peer to
// its most recent WriteFileDescriptor call. The returned file is owned by the
// caller and marked close-on-exec.
func (c *Channel) ReadFileDescriptor() (*os.File, error) {
	carrier := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := c.conn.ReadMsgUnix(carrier, oob)
	if err != nil {
		return nil, fmt.Errorf("channel receive fd: %w", err)
	}
	if oobn == 0 {
		return nil, ErrNoDescriptor
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("channel receive fd: parse control message: %w", err)
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	if len(fds) == 0 {
		return nil, ErrNoDescriptor
	}
	// The protocol carries exactly one descriptor per exchange; extras are
	// closed rather than leaked into our descriptor table.
	for _, fd := range fds[1:] {
		unix.Close(fd)
	}
	unix.CloseOnExec(fds[0])
	return os.NewFile(uintptr(fds[0]), "passed-socket"), nil
}

// Close releases the local endpoint. It is idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
