package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"proxysweep/internal/model"
)

// buildSOCKS5Transport builds a transport whose TCP connections to the
// target are tunneled through the descriptor's SOCKS5 proxy. Credentials,
// when present, are passed verbatim for RFC 1929 username/password
// authentication; otherwise the handshake is anonymous.
func (c *Connector) buildSOCKS5Transport(d model.Descriptor) (*http.Transport, *dialTracker, error) {
	var auth *proxy.Auth
	if d.HasAuth() {
		auth = &proxy.Auth{
			User:     d.Username,
			Password: d.Password,
		}
	}

	track := &dialTracker{}
	forward := &trackedForward{
		track: track,
		dialer: &net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: -1,
		},
	}

	socksDialer, err := proxy.SOCKS5("tcp", d.Address(), auth, forward)
	if err != nil {
		return nil, nil, err
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialSOCKS(ctx, socksDialer, network, addr)
		if err != nil {
			return nil, err
		}
		// Greeting, auth and CONNECT all succeeded; the tunnel is open.
		track.tunneled.Store(true)
		return conn, nil
	}

	transport := &http.Transport{
		DialContext: dialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
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

// trackedForward is the dialer the SOCKS5 client uses to reach the proxy
// itself. Marking the raw TCP connect separately lets classification
// distinguish an unreachable proxy from a failed handshake.
type trackedForward struct {
	track  *dialTracker
	dialer *net.Dialer
}

func (f *trackedForward) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

func (f *trackedForward) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := f.dialer.DialContext(ctx, network, addr)
	if err == nil {
		f.track.connected.Store(true)
	}
	return conn, err
}

// dialSOCKS prefers the context-aware dialer when available and falls
// back to plain Dial, which x/net/proxy guarantees to implement.
func dialSOCKS(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	type dialer interface {
		Dial(network, address string) (net.Conn, error)
	}
	if dd, ok := d.(dialer); ok {
		return dd.Dial(network, addr)
	}
	return nil, errors.New("socks5 dialer does not implement Dial")
}
