package model

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol identifies how a probe must speak to the proxy endpoint.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Descriptor is a normalized representation of one proxy entry
// parsed from file lines such as:
//   ip:port
//   protocol://ip:port
//   protocol://username:password@ip:port
//   username:password@ip:port
//
// A Descriptor is never mutated after parsing.
type Descriptor struct {
	Protocol Protocol // defaults to http when the line carries no scheme
	Host     string   // IPv4, IPv6 or hostname
	Port     int      // 1..65535
	Username string
	Password string
	Raw      string // original line for diagnostics
}

// Address returns the host:port endpoint of the proxy.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// HasAuth reports whether credentials were supplied for this proxy.
// Credentials are both-present or both-absent; the parser enforces that.
func (d Descriptor) HasAuth() bool {
	return d.Username != "" || d.Password != ""
}

// String renders the descriptor in protocol://host:port form, without
// credentials, for logs and reports.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s://%s", d.Protocol, d.Address())
}

// ProbeStatus classifies the result of one connectivity attempt.
type ProbeStatus int

const (
	StatusSuccess ProbeStatus = iota
	StatusFailure
	StatusTimeout
)

func (s ProbeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// MarshalText makes the status render as its name in JSON exports.
func (s ProbeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProbeOutcome is the immutable result of one probe. Exactly one outcome
// exists per started descriptor per run; the scheduler guarantees no
// duplicates and no drops for every probe it admits.
type ProbeOutcome struct {
	Descriptor  Descriptor  `json:"-"`
	Proxy       string      `json:"proxy"` // protocol://host:port
	Seq         int         `json:"seq"`   // submission index, sort tie-break
	Status      ProbeStatus `json:"status"`
	LatencyMs   int64       `json:"latency_ms,omitempty"` // set only on success
	ErrorDetail string      `json:"error,omitempty"`      // set on failure/timeout
	StatusCode  int         `json:"status_code,omitempty"`
	Country     string      `json:"country,omitempty"` // geo enrichment, optional
	City        string      `json:"city,omitempty"`
}

// OK reports whether the probe reached the target through the proxy.
func (o ProbeOutcome) OK() bool {
	return o.Status == StatusSuccess
}
