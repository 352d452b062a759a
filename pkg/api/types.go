// Package api defines the wire types of the relay's HTTP surface. Installer
// scripts and the gantry CLI decode these shapes.
package api

import "encoding/json"

// PollStatus is the device-flow status reported by the poll endpoint.
type PollStatus string

const (
	PollStatusPending    PollStatus = "pending"
	PollStatusAuthorized PollStatus = "authorized"
	PollStatusDenied     PollStatus = "denied"
	PollStatusExpired    PollStatus = "expired"
)

// DeviceAuthResponse is returned by POST /auth/device.
type DeviceAuthResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
}

// PollRequest is the body of POST /auth/poll.
type PollRequest struct {
	DeviceCode string `json:"device_code"`
}

// PollResponse is returned by POST /auth/poll. Token is set only when Status
// is authorized. Interval is set when the provider asked the client to slow
// its polling cadence.
type PollResponse struct {
	Status   PollStatus `json:"status"`
	Token    string     `json:"token,omitempty"`
	Interval int        `json:"interval,omitempty"`
}

// AuthStatusResponse is returned by GET /auth/status.
type AuthStatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// RelayCounters summarizes traffic relayed since process start.
type RelayCounters struct {
	Requests      int64 `json:"requests"`
	Proxied       int64 `json:"proxied"`
	ProxyFailures int64 `json:"proxy_failures"`
	BytesOut      int64 `json:"bytes_out"`
}

// HealthResponse is returned by GET /health. Premium holds the last known
// upstream usage summary and is omitted until a stats fetch has succeeded.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	Authenticated bool            `json:"authenticated"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Relay         RelayCounters   `json:"relay"`
	Premium       json.RawMessage `json:"premium,omitempty"`
}
