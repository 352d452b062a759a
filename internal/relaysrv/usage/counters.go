// Package usage tracks relay activity: in-memory counters reported by the
// health endpoint, and an append-only JSONL trail of forwarded requests for
// local inspection.
package usage

import (
	"sync/atomic"

	"github.com/gantryhq/gantry/pkg/api"
)

// Counters accumulates request totals for the lifetime of the process.
// All methods are safe for concurrent use.
type Counters struct {
	requests      atomic.Int64
	proxied       atomic.Int64
	proxyFailures atomic.Int64
	bytesOut      atomic.Int64
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordRequest counts a request accepted by the front door.
func (c *Counters) RecordRequest() {
	c.requests.Add(1)
}

// RecordProxied counts a forwarded request that completed with an upstream
// response, along with the body bytes relayed back to the client.
func (c *Counters) RecordProxied(bytes int64) {
	c.proxied.Add(1)
	c.bytesOut.Add(bytes)
}

// RecordProxyFailure counts a forwarded request that never produced an
// upstream response.
func (c *Counters) RecordProxyFailure() {
	c.proxyFailures.Add(1)
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() api.RelayCounters {
	return api.RelayCounters{
		Requests:      c.requests.Load(),
		Proxied:       c.proxied.Load(),
		ProxyFailures: c.proxyFailures.Load(),
		BytesOut:      c.bytesOut.Load(),
	}
}
