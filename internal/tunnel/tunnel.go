package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/btouchard/burrow/internal/discovery"
	"github.com/btouchard/burrow/internal/supervisor"
)

// Protocol selects the tunnel agent's leading positional argument.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Valid reports whether p is a supported protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// Scheme returns the public URL scheme the protocol is expected to advertise.
func (p Protocol) Scheme() discovery.Scheme {
	return discovery.Scheme(p)
}

var (
	ErrConfiguration       = errors.New("invalid tunnel configuration")
	ErrClosed              = errors.New("tunnel closed")
	ErrSchemeNotDiscovered = errors.New("scheme was not discovered for this tunnel")

	ErrSpawn             = supervisor.ErrSpawn
	ErrDiscoveryTimeout  = discovery.ErrNotFound
	ErrMalformedResponse = discovery.ErrMalformedResponse
	ErrProcessExited     = supervisor.ErrProcessExited
)

// Tunnel is a live tunnel whose lifetime is bound to the agent process.
// It is safe for concurrent use. Callers must Close it, typically with defer.
type Tunnel struct {
	protocol Protocol
	record   discovery.Record
	sup      *supervisor.Supervisor
	exited   <-chan supervisor.Outcome

	mu      sync.Mutex
	outcome *supervisor.Outcome
	settled chan struct{}
}

func newTunnel(protocol Protocol, record discovery.Record, sup *supervisor.Supervisor) *Tunnel {
	t := &Tunnel{
		protocol: protocol,
		record:   record,
		sup:      sup,
		exited:   sup.Exited(),
		settled:  make(chan struct{}),
	}
	// A handle collected without Close still takes the agent down with it.
	runtime.AddCleanup(t, func(s *supervisor.Supervisor) { s.RequestStop() }, sup)
	return t
}

// Status reports the cached outcome of the agent process. It never blocks.
// It is nil while the process runs and after a clean Close; once the process
// has died on its own the same error is returned on every call.
func (t *Tunnel) Status() error {
	out, _ := t.poll()
	return out.Err
}

// HTTPURL returns the public http:// URL. It fails with the process error if
// the tunnel died and with ErrClosed after Close.
func (t *Tunnel) HTTPURL() (*url.URL, error) {
	return t.url(discovery.SchemeHTTP)
}

// HTTPSURL returns the public https:// URL, or the process error if the tunnel is dead.
func (t *Tunnel) HTTPSURL() (*url.URL, error) {
	return t.url(discovery.SchemeHTTPS)
}

// PublicURL returns the https URL when one was discovered, the http URL otherwise.
func (t *Tunnel) PublicURL() (*url.URL, error) {
	if t.record.HTTPS != nil {
		return t.HTTPSURL()
	}
	return t.HTTPURL()
}

func (t *Tunnel) url(s discovery.Scheme) (*url.URL, error) {
	if out, ok := t.poll(); ok {
		if out.Err != nil {
			return nil, out.Err
		}
		return nil, ErrClosed
	}
	u := t.record.URL(s)
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotDiscovered, s)
	}
	return cloneURL(u), nil
}

// Close stops the agent process and blocks until it is gone. It is
// idempotent and safe to call concurrently; every caller observes the same
// outcome and the process is signalled at most once.
func (t *Tunnel) Close() error {
	if out, ok := t.poll(); ok {
		return out.Err
	}

	slog.Debug("stopping tunnel", "port", t.record.LocalPort, "pid", t.sup.PID())
	t.sup.RequestStop()

	select {
	case out := <-t.exited:
		t.mu.Lock()
		if t.outcome == nil {
			t.settleLocked(out)
		}
		t.mu.Unlock()
	case <-t.settled:
	}

	t.mu.Lock()
	out := *t.outcome
	t.mu.Unlock()

	slog.Info("tunnel closed", "port", t.record.LocalPort, "pid", t.sup.PID(), "state", out.State.String())
	return out.Err
}

// poll checks for a delivered outcome without blocking.
func (t *Tunnel) poll() (supervisor.Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outcome == nil {
		select {
		case out := <-t.exited:
			t.settleLocked(out)
		default:
			return supervisor.Outcome{}, false
		}
	}
	return *t.outcome, true
}

func (t *Tunnel) settleLocked(out supervisor.Outcome) {
	t.outcome = &out
	close(t.settled)
}

// Outcome returns the terminal outcome once the process has ended.
func (t *Tunnel) Outcome() (supervisor.Outcome, bool) {
	return t.poll()
}

// Protocol returns the protocol the agent was started with.
func (t *Tunnel) Protocol() Protocol { return t.protocol }

// Port returns the tunneled local port.
func (t *Tunnel) Port() uint16 { return t.record.LocalPort }

// PID returns the agent's process id.
func (t *Tunnel) PID() int { return t.sup.PID() }

// StartedAt returns when the agent process was spawned.
func (t *Tunnel) StartedAt() time.Time { return t.sup.StartedAt() }

// State returns the supervisor's lifecycle state.
func (t *Tunnel) State() supervisor.State { return t.sup.State() }

// Record returns a copy of the discovered URLs, regardless of process health.
func (t *Tunnel) Record() discovery.Record {
	return discovery.Record{
		LocalPort: t.record.LocalPort,
		HTTP:      cloneURL(t.record.HTTP),
		HTTPS:     cloneURL(t.record.HTTPS),
	}
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
