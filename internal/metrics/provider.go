package metrics

// Metric names understood by Prom.
const (
	Publishers       = "bridge_publishers"
	Recipients       = "bridge_recipients"
	MessagesRouted   = "bridge_messages_routed_total"
	MessagesBad      = "bridge_messages_malformed_total"
	MessagesUnrouted = "bridge_messages_unrouted_total"
	AuthSuccess      = "bridge_auth_success_total"
	AuthFailure      = "bridge_auth_failure_total"
	SessionLookupMs  = "bridge_session_lookup_ms"

	GatewayConnections = "gateway_connections"
	GatewayDropped     = "gateway_frames_dropped_total"
)

// Provider is the metrics sink components report to.
type Provider interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
	Observe(name string, value float64)
}

type Noop struct{}

func (Noop) SetGauge(string, float64)   {}
func (Noop) IncCounter(string, float64) {}
func (Noop) Observe(string, float64)    {}
