package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/btouchard/burrow/internal/config"
	"github.com/btouchard/burrow/internal/discovery"
	"github.com/btouchard/burrow/internal/supervisor"
)

// DefaultExecutable is the agent binary looked up on PATH.
const DefaultExecutable = "ngrok"

// Builder collects the configuration for one tunnel. Protocol and port are
// required; everything else has a default.
type Builder struct {
	protocol   Protocol
	port       uint16
	executable string
	schemes    []discovery.Scheme
	apiURL     string
	timeout    time.Duration
	interval   time.Duration
	stopGrace  time.Duration
	env        map[string]string
	args       []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		executable: DefaultExecutable,
		apiURL:     discovery.DefaultAPIURL,
		timeout:    discovery.DefaultTimeout,
		interval:   discovery.DefaultPollInterval,
	}
}

// FromConfig returns a Builder preloaded from the tunnel config section.
// An empty protocol or zero port is left unset so Run reports it.
func FromConfig(cfg config.TunnelConfig) *Builder {
	b := NewBuilder()
	if cfg.Protocol != "" {
		b.Protocol(Protocol(cfg.Protocol))
	}
	if cfg.Port > 0 && cfg.Port <= 65535 {
		b.Port(uint16(cfg.Port))
	}
	if cfg.Executable != "" {
		b.Executable(cfg.Executable)
	}
	for _, s := range cfg.Require {
		b.Require(discovery.Scheme(s))
	}
	if cfg.DiscoveryURL != "" {
		b.DiscoveryAPI(cfg.DiscoveryURL)
	}
	if cfg.DiscoveryTimeout > 0 {
		b.Timeout(cfg.DiscoveryTimeout)
	}
	if cfg.PollInterval > 0 {
		b.PollInterval(cfg.PollInterval)
	}
	b.StopGrace(cfg.StopGrace)
	b.Env(cfg.AgentEnv())
	b.Args(cfg.Args...)
	return b
}

func (b *Builder) HTTP() *Builder  { return b.Protocol(ProtocolHTTP) }
func (b *Builder) HTTPS() *Builder { return b.Protocol(ProtocolHTTPS) }

func (b *Builder) Protocol(p Protocol) *Builder {
	b.protocol = p
	return b
}

// Port sets the local port to expose.
func (b *Builder) Port(port uint16) *Builder {
	b.port = port
	return b
}

// Executable overrides the agent binary, either a name on PATH or a path.
func (b *Builder) Executable(path string) *Builder {
	b.executable = path
	return b
}

// Require adds schemes that must all be advertised before Run succeeds.
// Without it only the protocol's own scheme is required.
func (b *Builder) Require(schemes ...discovery.Scheme) *Builder {
	b.schemes = append(b.schemes, schemes...)
	return b
}

func (b *Builder) DiscoveryAPI(apiURL string) *Builder {
	b.apiURL = apiURL
	return b
}

// Timeout bounds how long Run waits for the tunnel to be advertised.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

func (b *Builder) PollInterval(d time.Duration) *Builder {
	b.interval = d
	return b
}

// StopGrace sets how long Close waits after SIGTERM before SIGKILL.
func (b *Builder) StopGrace(d time.Duration) *Builder {
	b.stopGrace = d
	return b
}

// Env adds environment variables for the agent process.
func (b *Builder) Env(env map[string]string) *Builder {
	if b.env == nil {
		b.env = make(map[string]string, len(env))
	}
	for k, v := range env {
		b.env[k] = v
	}
	return b
}

// Args appends extra arguments after "<protocol> <port>".
func (b *Builder) Args(args ...string) *Builder {
	b.args = append(b.args, args...)
	return b
}

// Target returns the configured protocol and port, which may still be unset.
func (b *Builder) Target() (Protocol, uint16) {
	return b.protocol, b.port
}

func (b *Builder) requiredSchemes() []discovery.Scheme {
	if len(b.schemes) > 0 {
		return b.schemes
	}
	return []discovery.Scheme{b.protocol.Scheme()}
}

func (b *Builder) validate() error {
	var problems []string

	switch {
	case b.protocol == "":
		problems = append(problems, "protocol is required")
	case !b.protocol.Valid():
		problems = append(problems, fmt.Sprintf("unsupported protocol %q", b.protocol))
	}
	if b.port == 0 {
		problems = append(problems, "port is required")
	}
	if b.executable == "" {
		problems = append(problems, "executable must not be empty")
	}
	for _, s := range b.schemes {
		if !s.Valid() {
			problems = append(problems, fmt.Sprintf("unsupported scheme %q", s))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// Run spawns the agent, waits for it to advertise the tunnel and returns a
// live Tunnel. Configuration errors are reported before anything is spawned.
// Every error path after the spawn stops the process before returning.
func (b *Builder) Run(ctx context.Context) (*Tunnel, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	schemes := b.requiredSchemes()
	args := append([]string{string(b.protocol), strconv.Itoa(int(b.port))}, b.args...)

	sup, err := supervisor.Spawn(supervisor.Options{
		Path:      b.executable,
		Args:      args,
		Env:       b.env,
		StopGrace: b.stopGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("starting tunnel: %w", err)
	}

	// Discovery gives up as soon as the agent dies.
	discoverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sup.Done():
			cancel()
		case <-discoverCtx.Done():
		}
	}()

	client := discovery.NewClient(b.apiURL)
	client.PollInterval = b.interval

	record, err := client.Discover(discoverCtx, b.port, schemes, b.timeout)
	if err != nil {
		sup.RequestStop()
		out := <-sup.Exited()
		if out.State == supervisor.StateExitedUnexpectedly && ctx.Err() == nil {
			return nil, fmt.Errorf("waiting for tunnel on port %d: %w", b.port, out.Err)
		}
		slog.Warn("tunnel discovery failed, process stopped",
			"port", b.port,
			"pid", sup.PID(),
			"error", err)
		return nil, fmt.Errorf("discovering tunnel on port %d: %w", b.port, err)
	}

	if err := sup.MarkRunning(); err != nil {
		out := <-sup.Exited()
		return nil, fmt.Errorf("tunnel on port %d: %w", b.port, errors.Join(out.Err, err))
	}

	t := newTunnel(b.protocol, record, sup)

	slog.Info("tunnel ready",
		"port", b.port,
		"protocol", string(b.protocol),
		"pid", sup.PID(),
		"http", urlString(record.HTTP),
		"https", urlString(record.HTTPS))

	return t, nil
}
