// Package socket resolves beacon connection addressing and owns the
// platform details of opening listeners and client connections for
// both transport kinds.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	reuseport "github.com/kavu/go_reuseport"
)

// Kind selects the transport a Config addresses.
type Kind string

const (
	// KindIPC is a unix domain socket (or named pipe identifier on
	// platforms without filesystem sockets).
	KindIPC Kind = "ipc"

	// KindTCP is a plain TCP host/port pair.
	KindTCP Kind = "tcp"
)

const (
	// DefaultHost is loopback only. Listening wider than loopback is a
	// deliberate operator decision.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the canonical beacon TCP port.
	DefaultPort = 9999

	// DefaultSocketName is the well-known IPC socket filename, created
	// under the platform temp directory.
	DefaultSocketName = "beacon.sock"
)

var ErrUnknownKind = errors.New("Unknown connection kind, expected 'ipc' or 'tcp'")

// Config addresses one beacon connection. Exactly one kind is active;
// the kind is fixed once the Config is built.
type Config struct {
	Kind Kind

	// Path is the IPC socket path. Empty resolves to DefaultPath().
	Path string

	// Host and Port address the tcp kind.
	Host string
	Port int
}

// DefaultPath returns the well-known IPC socket location.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultSocketName)
}

// Network returns the net package network name for the config's kind.
func (c Config) Network() string {
	if c.Kind == KindTCP {
		return "tcp"
	}

	return "unix"
}

// Address returns the dial/listen address for the config's kind.
func (c Config) Address() string {
	if c.Kind == KindTCP {
		return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}

	if c.Path == "" {
		return DefaultPath()
	}

	return c.Path
}

// Validate checks that the config addresses exactly one usable endpoint.
func (c Config) Validate() error {
	switch c.Kind {
	case KindIPC:
		return nil

	case KindTCP:
		if c.Host == "" {
			return errors.New("tcp connections require a host")
		}

		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("tcp connections require a port between 1 and 65535, got %d", c.Port)
		}

		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(c.Kind))
	}
}

// Dial opens a client connection to the configured endpoint.
func Dial(ctx context.Context, c Config) (net.Conn, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var d net.Dialer
	return d.DialContext(ctx, c.Network(), c.Address())
}

// Listen opens a listener on the configured endpoint.
//
// For the ipc kind a stale socket file left behind by a crashed process
// is removed before binding. For the tcp kind the listener is opened
// with SO_REUSEPORT so restarts don't trip over TIME_WAIT.
func Listen(c Config) (net.Listener, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.Kind == KindTCP {
		return reuseport.Listen("tcp", c.Address())
	}

	path := c.Address()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("Failed to ensure socket dir: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err == nil {
		_ = os.Chmod(path, 0o600)
		return listener, nil
	}

	if !isAddrInUse(err) {
		return nil, fmt.Errorf("Failed to listen on %s: %w", path, err)
	}

	// A socket file already exists. If nothing answers on it, it's a
	// leftover from an unclean shutdown and is safe to replace.
	if alive := probe(path); alive {
		return nil, fmt.Errorf("Socket address already in use at %s", path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Failed to remove stale socket %s: %w", path, err)
	}

	listener, err = net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("Failed to listen on %s: %w", path, err)
	}

	_ = os.Chmod(path, 0o600)
	return listener, nil
}

// probe reports whether a live process answers on the unix socket at path.
func probe(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}

	conn.Close()
	return true
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "address already in use")
}
