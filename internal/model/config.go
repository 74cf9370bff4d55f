package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// GeoInfo describes geographical information associated with an IP.
type GeoInfo struct {
	Country string
	City    string
}

// IPResolver looks up geo information for an IP address. Implementations
// must be safe for concurrent use; probes run in parallel.
type IPResolver interface {
	Lookup(ip string) (GeoInfo, error)
}

// RunConfig carries the parameters of one validation run. The values are
// fixed for the lifetime of the run.
type RunConfig struct {
	TargetURL   string
	Timeout     time.Duration
	Concurrency int
	UserAgent   string
	Resolver    IPResolver // nil disables geo enrichment
}

const (
	DefaultTargetURL   = "http://www.google.com"
	DefaultTimeout     = 10 * time.Second
	DefaultConcurrency = 10
)

// Validate rejects configurations that must never start a run.
func (c RunConfig) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrConfiguration, c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrConfiguration, c.Timeout)
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("%w: target url %q: %v", ErrConfiguration, c.TargetURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target url %q: scheme must be http or https", ErrConfiguration, c.TargetURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target url %q: missing host", ErrConfiguration, c.TargetURL)
	}
	return nil
}

// NormalizeTargetURL prepends http:// when the caller omitted a scheme,
// mirroring how the run parameters are usually typed by hand.
func NormalizeTargetURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "http://" + raw
	}
	return raw
}

// ErrConfiguration marks problems that are fatal to starting a run.
var ErrConfiguration = errors.New("configuration error")
