// Package probe performs one connectivity attempt per proxy descriptor
// against the configured target URL. Protocol-specific connection logic
// (http/https forward proxy vs socks5 tunnel) lives behind the single
// Prober capability; the scheduler never branches on protocol.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"proxysweep/internal/model"
)

// Prober runs a single probe. Implementations never retry and never
// panic; every failure mode is folded into the returned outcome.
type Prober interface {
	Probe(ctx context.Context, seq int, d model.Descriptor) model.ProbeOutcome
}

// Connector is the production Prober. It opens a real network connection
// through the proxy for every probe and classifies the result.
type Connector struct {
	targetURL string
	timeout   time.Duration
	userAgent string
	resolver  model.IPResolver
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// New validates the run configuration and builds a Connector.
// Configuration problems are surfaced before any probe starts.
func New(cfg model.RunConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Connector{
		targetURL: cfg.TargetURL,
		timeout:   cfg.Timeout,
		userAgent: ua,
		resolver:  cfg.Resolver,
	}, nil
}

// Probe attempts one request to the target URL through the descriptor's
// proxy. Timing starts immediately before the connection attempt and
// stops at the first byte of a valid response. Exceeding the per-probe
// timeout yields StatusTimeout; every other problem yields StatusFailure
// with a detail naming the failure point.
func (c *Connector) Probe(ctx context.Context, seq int, d model.Descriptor) model.ProbeOutcome {
	out := model.ProbeOutcome{
		Descriptor: d,
		Proxy:      d.String(),
		Seq:        seq,
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	transport, track, err := c.buildTransport(d)
	if err != nil {
		out.Status = model.StatusFailure
		out.ErrorDetail = "connect: " + err.Error()
		return out
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // reachability only, don't follow
		},
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.targetURL, nil)
	if err != nil {
		out.Status = model.StatusFailure
		out.ErrorDetail = "request: " + err.Error()
		return out
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Connection", "close")

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		out.Status, out.ErrorDetail = c.classify(ctx, probeCtx, err, track)
		return out
	}
	resp.Body.Close()

	// Any well-formed HTTP response counts as reachability; we validate
	// the network path, not the content.
	out.Status = model.StatusSuccess
	out.LatencyMs = elapsed.Milliseconds()
	out.StatusCode = resp.StatusCode
	c.enrich(&out)
	return out
}

// buildTransport returns a single-use transport for the descriptor's
// protocol plus a tracker used to name the failure point afterwards.
func (c *Connector) buildTransport(d model.Descriptor) (*http.Transport, *dialTracker, error) {
	switch d.Protocol {
	case model.ProtocolHTTP, model.ProtocolHTTPS:
		return c.buildForwardProxyTransport(d)
	case model.ProtocolSOCKS5:
		return c.buildSOCKS5Transport(d)
	default:
		return nil, nil, fmt.Errorf("unsupported protocol %q", d.Protocol)
	}
}

// buildForwardProxyTransport tunnels through an HTTP(S) forward proxy.
// https targets go through CONNECT; http targets are forwarded as
// absolute-URI requests, the standard convention for each scheme.
func (c *Connector) buildForwardProxyTransport(d model.Descriptor) (*http.Transport, *dialTracker, error) {
	u := &url.URL{
		Scheme: string(d.Protocol),
		Host:   d.Address(),
	}
	if d.HasAuth() {
		u.User = url.UserPassword(d.Username, d.Password)
	}

	track := &dialTracker{}
	transport := &http.Transport{
		Proxy: http.ProxyURL(u),
		DialContext: track.wrap((&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: -1,
		}).DialContext),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // reachability check, not trust validation
		},
		DisableKeepAlives:     true,
		DisableCompression:    true,
		MaxIdleConns:          0,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return transport, track, nil
}

// dialTracker records how far the connection attempt got so the failure
// point (connect vs handshake vs request) can be named precisely. Each
// probe builds its own transport, so the flags see one dial at most.
type dialTracker struct {
	connected atomic.Bool // TCP connection to the proxy established
	tunneled  atomic.Bool // proxy handshake done, tunnel to target open
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (t *dialTracker) wrap(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err == nil {
			t.connected.Store(true)
		}
		return conn, err
	}
}

// classify folds a transport error into the outcome taxonomy. A probe
// that exhausted its own deadline is a TIMEOUT; a probe aborted by run
// cancellation or failing before the deadline is a FAILURE whose detail
// names the stage that broke.
func (c *Connector) classify(ctx, probeCtx context.Context, err error, track *dialTracker) (model.ProbeStatus, string) {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return model.StatusFailure, "run cancelled"
	}

	stage := track.stage(err)
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return model.StatusTimeout, fmt.Sprintf("%s: no response within %v", stage, c.timeout)
	}
	return model.StatusFailure, stage + ": " + baseError(err).Error()
}

// stage names the failure point based on how far the dial got and what
// the error text reveals about proxy-side negotiation.
func (t *dialTracker) stage(err error) string {
	msg := err.Error()
	switch {
	case containsAny(msg, "authentication", "username/password", "407"):
		return "auth"
	case !t.connected.Load():
		return "connect"
	case t.tunneled.Load():
		return "request"
	case containsAny(msg, "proxyconnect", "socks connect", "handshake"):
		return "handshake"
	default:
		return "request"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// baseError unwraps the chain to the most specific underlying error so
// the detail stays short enough for reports.
func baseError(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// enrich annotates a successful outcome with geo information about the
// proxy endpoint when a resolver is configured.
func (c *Connector) enrich(out *model.ProbeOutcome) {
	if c.resolver == nil {
		return
	}
	info, err := c.resolver.Lookup(out.Descriptor.Host)
	if err != nil {
		return
	}
	out.Country = info.Country
	out.City = info.City
}
