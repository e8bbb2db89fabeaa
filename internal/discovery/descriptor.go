package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the URL scheme of an advertised public endpoint.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Valid reports whether s is a scheme the discovery client can match.
func (s Scheme) Valid() bool {
	return s == SchemeHTTP || s == SchemeHTTPS
}

var (
	// ErrNotFound is returned when no matching tunnel was advertised before the deadline.
	ErrNotFound = errors.New("no matching tunnel advertised")

	// ErrMalformedResponse is returned when the status API answers with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed tunnel listing")
)

// Descriptor is one entry of the status API's tunnel listing.
type Descriptor struct {
	Name           string
	Proto          string
	ConfiguredAddr *url.URL
	PublicURL      *url.URL
}

// LocalPort returns the port of the configured local address, or 0 if it has none.
func (d Descriptor) LocalPort() uint16 {
	if d.ConfiguredAddr == nil {
		return 0
	}
	p, err := strconv.ParseUint(d.ConfiguredAddr.Port(), 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}

// Scheme returns the scheme of the advertised public URL.
func (d Descriptor) Scheme() Scheme {
	if d.PublicURL == nil {
		return ""
	}
	return Scheme(strings.ToLower(d.PublicURL.Scheme))
}

// listing mirrors GET /api/tunnels. Pointer fields let missing keys be told
// apart from empty values.
type listing struct {
	Tunnels *[]apiTunnel `json:"tunnels"`
}

type apiTunnel struct {
	Name      string     `json:"name"`
	Proto     string     `json:"proto"`
	PublicURL *string    `json:"public_url"`
	Config    *apiConfig `json:"config"`
}

type apiConfig struct {
	Addr *string `json:"addr"`
}

// ParseDescriptors decodes a status API body. A missing or mistyped field is
// reported as ErrMalformedResponse. An entry whose config.addr carries no
// usable port is kept with LocalPort 0 and never matches.
func ParseDescriptors(body []byte) ([]Descriptor, error) {
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if l.Tunnels == nil {
		return nil, fmt.Errorf("%w: missing tunnels field", ErrMalformedResponse)
	}

	descs := make([]Descriptor, 0, len(*l.Tunnels))
	for i, t := range *l.Tunnels {
		if t.PublicURL == nil || *t.PublicURL == "" {
			return nil, fmt.Errorf("%w: tunnel %d has no public_url", ErrMalformedResponse, i)
		}
		if t.Config == nil || t.Config.Addr == nil || *t.Config.Addr == "" {
			return nil, fmt.Errorf("%w: tunnel %d has no config.addr", ErrMalformedResponse, i)
		}

		public, err := url.Parse(*t.PublicURL)
		if err != nil || public.Scheme == "" || public.Host == "" {
			return nil, fmt.Errorf("%w: tunnel %d public_url %q", ErrMalformedResponse, i, *t.PublicURL)
		}

		addr, err := parseAddr(*t.Config.Addr)
		if err != nil {
			slog.Debug("ignoring tunnel address", "tunnel", t.Name, "addr", *t.Config.Addr, "error", err)
		}

		descs = append(descs, Descriptor{
			Name:           t.Name,
			Proto:          t.Proto,
			ConfiguredAddr: addr,
			PublicURL:      public,
		})
	}

	return descs, nil
}

// parseAddr accepts the forms the tunnel agent reports for config.addr:
// "http://localhost:3030", "localhost:3030" and "3030". Other forms, such as
// file:///srv/www, parse to a URL without a port.
func parseAddr(addr string) (*url.URL, error) {
	if _, err := strconv.ParseUint(addr, 10, 16); err == nil {
		addr = "localhost:" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return url.Parse(addr)
}

// Record holds the public URLs resolved for one local port, one per scheme.
type Record struct {
	LocalPort uint16
	HTTP      *url.URL
	HTTPS     *url.URL
}

// URL returns the URL recorded for scheme, or nil.
func (r Record) URL(s Scheme) *url.URL {
	switch s {
	case SchemeHTTP:
		return r.HTTP
	case SchemeHTTPS:
		return r.HTTPS
	default:
		return nil
	}
}

// Match selects, for every requested scheme, the first descriptor whose
// configured port equals port and whose public URL has that scheme.
// It reports false unless every requested scheme was found; port 0 never matches.
func Match(descs []Descriptor, port uint16, schemes []Scheme) (Record, bool) {
	rec := Record{LocalPort: port}
	if port == 0 || len(schemes) == 0 {
		return rec, false
	}

	for _, want := range schemes {
		var found *url.URL
		for _, d := range descs {
			if d.LocalPort() == port && d.Scheme() == want {
				found = d.PublicURL
				break
			}
		}
		if found == nil {
			return Record{}, false
		}

		switch want {
		case SchemeHTTP:
			rec.HTTP = found
		case SchemeHTTPS:
			rec.HTTPS = found
		default:
			return Record{}, false
		}
	}

	return rec, true
}
