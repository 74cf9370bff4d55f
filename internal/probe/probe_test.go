package probe

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxysweep/internal/model"
)

func testConfig(targetURL string, timeout time.Duration) model.RunConfig {
	return model.RunConfig{
		TargetURL:   targetURL,
		Timeout:     timeout,
		Concurrency: 1,
	}
}

func descriptorFor(t *testing.T, proto model.Protocol, addr string) model.Descriptor {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return model.Descriptor{Protocol: proto, Host: host, Port: port}
}

// closedPort returns a local port that nothing is listening on.
func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	bad := []model.RunConfig{
		{TargetURL: "http://example.com", Timeout: time.Second, Concurrency: 0},
		{TargetURL: "http://example.com", Timeout: 0, Concurrency: 1},
		{TargetURL: "://not-a-url", Timeout: time.Second, Concurrency: 1},
		{TargetURL: "ftp://example.com", Timeout: time.Second, Concurrency: 1},
		{TargetURL: "http://", Timeout: time.Second, Concurrency: 1},
	}

	for _, cfg := range bad {
		_, err := New(cfg)
		require.Error(t, err, "%+v", cfg)
		assert.ErrorIs(t, err, model.ErrConfiguration, "%+v", cfg)
	}
}

func TestProbe_HTTPProxySuccess(t *testing.T) {
	// A plain handler acts as a forward proxy for http targets: it
	// receives the absolute-URI request and answers directly.
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, r.URL.IsAbs(), "forward proxy receives an absolute URI")
		w.WriteHeader(http.StatusOK)
	}))
	defer proxySrv.Close()

	c, err := New(testConfig("http://target.invalid/", 2*time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolHTTP, strings.TrimPrefix(proxySrv.URL, "http://"))
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusSuccess, out.Status, "detail: %s", out.ErrorDetail)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.GreaterOrEqual(t, out.LatencyMs, int64(0))
	assert.Empty(t, out.ErrorDetail)
	assert.Equal(t, 0, out.Seq)
}

func TestProbe_AnyStatusCodeCountsAsReachability(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxySrv.Close()

	c, err := New(testConfig("http://target.invalid/", 2*time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolHTTP, strings.TrimPrefix(proxySrv.URL, "http://"))
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Equal(t, http.StatusBadGateway, out.StatusCode)
}

func TestProbe_ConnectFailure(t *testing.T) {
	c, err := New(testConfig("http://target.invalid/", time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolHTTP, closedPort(t))
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusFailure, out.Status)
	assert.True(t, strings.HasPrefix(out.ErrorDetail, "connect:"),
		"detail should name the connect stage, got %q", out.ErrorDetail)
	assert.Zero(t, out.LatencyMs, "latency is only recorded on success")
}

func TestProbe_Timeout(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer proxySrv.Close()

	c, err := New(testConfig("http://target.invalid/", 100*time.Millisecond))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolHTTP, strings.TrimPrefix(proxySrv.URL, "http://"))
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusTimeout, out.Status)
	assert.NotEmpty(t, out.ErrorDetail)
	assert.Zero(t, out.LatencyMs)
}

func TestProbe_RunCancellation(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer proxySrv.Close()

	c, err := New(testConfig("http://target.invalid/", 10*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	d := descriptorFor(t, model.ProtocolHTTP, strings.TrimPrefix(proxySrv.URL, "http://"))
	out := c.Probe(ctx, 0, d)

	assert.Equal(t, model.StatusFailure, out.Status, "cancellation is not a timeout")
	assert.Equal(t, "run cancelled", out.ErrorDetail)
}

func TestProbe_SOCKS5Success(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	socksAddr := startSOCKS5Server(t, "", "")

	c, err := New(testConfig(target.URL, 2*time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolSOCKS5, socksAddr)
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusSuccess, out.Status, "detail: %s", out.ErrorDetail)
	assert.Equal(t, http.StatusOK, out.StatusCode)
}

func TestProbe_SOCKS5WithCredentials(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	socksAddr := startSOCKS5Server(t, "user", "secret")

	c, err := New(testConfig(target.URL, 2*time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolSOCKS5, socksAddr)
	d.Username = "user"
	d.Password = "secret"
	out := c.Probe(context.Background(), 0, d)
	assert.Equal(t, model.StatusSuccess, out.Status, "detail: %s", out.ErrorDetail)

	d.Password = "wrong"
	out = c.Probe(context.Background(), 1, d)
	assert.Equal(t, model.StatusFailure, out.Status)
	assert.NotEmpty(t, out.ErrorDetail)
}

func TestProbe_SOCKS5ProxyUnreachable(t *testing.T) {
	c, err := New(testConfig("http://target.invalid/", time.Second))
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolSOCKS5, closedPort(t))
	out := c.Probe(context.Background(), 0, d)

	assert.Equal(t, model.StatusFailure, out.Status)
	assert.True(t, strings.HasPrefix(out.ErrorDetail, "connect:"),
		"detail should name the connect stage, got %q", out.ErrorDetail)
}

func TestProbe_GeoEnrichment(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer proxySrv.Close()

	cfg := testConfig("http://target.invalid/", 2*time.Second)
	cfg.Resolver = staticResolver{info: model.GeoInfo{Country: "Testland", City: "Probeville"}}

	c, err := New(cfg)
	require.NoError(t, err)

	d := descriptorFor(t, model.ProtocolHTTP, strings.TrimPrefix(proxySrv.URL, "http://"))
	out := c.Probe(context.Background(), 0, d)

	require.Equal(t, model.StatusSuccess, out.Status)
	assert.Equal(t, "Testland", out.Country)
	assert.Equal(t, "Probeville", out.City)
}

type staticResolver struct {
	info model.GeoInfo
}

func (r staticResolver) Lookup(ip string) (model.GeoInfo, error) {
	return r.info, nil
}

// startSOCKS5Server runs a minimal RFC 1928 server for the duration of
// the test. With a non-empty user it requires RFC 1929 authentication.
func startSOCKS5Server(t *testing.T, user, pass string) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(conn, user, pass)
		}
	}()

	return l.Addr().String()
}

func serveSOCKS5(conn net.Conn, user, pass string) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Greeting: VER, NMETHODS, METHODS...
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil || hdr[0] != 0x05 {
		return
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}

	if user != "" {
		conn.Write([]byte{0x05, 0x02})
		if !checkUserPass(conn, user, pass) {
			return
		}
	} else {
		conn.Write([]byte{0x05, 0x00})
	}

	// Request: VER, CMD, RSV, ATYP + address + port.
	var req [4]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil || req[1] != 0x01 {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		var a [4]byte
		if _, err := io.ReadFull(conn, a[:]); err != nil {
			return
		}
		host = net.IP(a[:]).String()
	case 0x03:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	case 0x04:
		var a [16]byte
		if _, err := io.ReadFull(conn, a[:]); err != nil {
			return
		}
		host = net.IP(a[:]).String()
	default:
		return
	}
	var portBytes [2]byte
	if _, err := io.ReadFull(conn, portBytes[:]); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(portBytes[:])

	upstream, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))), 2*time.Second)
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()

	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// checkUserPass validates an RFC 1929 subnegotiation.
func checkUserPass(conn net.Conn, user, pass string) bool {
	var ver [2]byte
	if _, err := io.ReadFull(conn, ver[:]); err != nil || ver[0] != 0x01 {
		return false
	}
	u := make([]byte, ver[1])
	if _, err := io.ReadFull(conn, u); err != nil {
		return false
	}
	var plen [1]byte
	if _, err := io.ReadFull(conn, plen[:]); err != nil {
		return false
	}
	p := make([]byte, plen[0])
	if _, err := io.ReadFull(conn, p); err != nil {
		return false
	}
	if string(u) == user && string(p) == pass {
		conn.Write([]byte{0x01, 0x00})
		return true
	}
	conn.Write([]byte{0x01, 0x01})
	return false
}

func TestNormalizeTargetURL(t *testing.T) {
	assert.Equal(t, "http://www.google.com", model.NormalizeTargetURL("www.google.com"))
	assert.Equal(t, "http://example.com", model.NormalizeTargetURL("http://example.com"))
	assert.Equal(t, "https://example.com", model.NormalizeTargetURL("https://example.com"))

	u, err := url.Parse(model.NormalizeTargetURL("example.com:8080/path"))
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
}
