// Package metrics defines the four counters the router exposes per
// spec §4.G: total requests, total errors, total handler errors, and
// whatever participating middleware registers on top of them.
//
// The counters are plain atomic prometheus.Counter values owned by the
// Router instance, not a package-level singleton — see the Design
// Notes' "resist turning them into a singleton".
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counters holds the router's own gauges. Naming beyond the metric name
// itself is a concern of the host application (spec §4.G), so these are
// deliberately generic.
type Counters struct {
	Requests      prometheus.Counter
	Errors        prometheus.Counter
	HandlerErrors prometheus.Counter
}

// NewCounters constructs a fresh, unregistered set of counters.
func NewCounters() *Counters {
	return &Counters{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protomux_rpc_router_requests_total",
			Help: "Total number of inbound RPC requests handled by the router.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protomux_rpc_router_errors_total",
			Help: "Total number of requests that surfaced an error to the peer.",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protomux_rpc_router_handler_errors_total",
			Help: "Total number of requests that failed inside the user handler.",
		}),
	}
}

// Register attaches the counters to reg. Calling it twice with the same
// reg returns prometheus's duplicate-registration error.
func (c *Counters) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{c.Requests, c.Errors, c.HandlerErrors} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
