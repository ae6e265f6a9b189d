package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	reg *prometheus.Registry

	PublishersGauge  prometheus.Gauge
	RecipientsGauge  prometheus.Gauge
	Routed           prometheus.Counter
	Malformed        prometheus.Counter
	Unrouted         prometheus.Counter
	AuthOK           prometheus.Counter
	AuthFailed       prometheus.Counter
	SessionLookupLat prometheus.Summary

	Connections prometheus.Gauge
	Dropped     prometheus.Counter
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:              reg,
		PublishersGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: Publishers, Help: "Known publisher connections"}),
		RecipientsGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: Recipients, Help: "Recipients with at least one listener"}),
		Routed:           prometheus.NewCounter(prometheus.CounterOpts{Name: MessagesRouted, Help: "Messages delivered to at least one listener"}),
		Malformed:        prometheus.NewCounter(prometheus.CounterOpts{Name: MessagesBad, Help: "Wire messages dropped as malformed"}),
		Unrouted:         prometheus.NewCounter(prometheus.CounterOpts{Name: MessagesUnrouted, Help: "Messages for recipients without listeners"}),
		AuthOK:           prometheus.NewCounter(prometheus.CounterOpts{Name: AuthSuccess, Help: "Tokens resolved to a user"}),
		AuthFailed:       prometheus.NewCounter(prometheus.CounterOpts{Name: AuthFailure, Help: "Tokens that did not resolve to a user"}),
		SessionLookupLat: prometheus.NewSummary(prometheus.SummaryOpts{Name: SessionLookupMs, Help: "Latency of session store lookups in ms"}),
		Connections:      prometheus.NewGauge(prometheus.GaugeOpts{Name: GatewayConnections, Help: "Open gateway connections"}),
		Dropped:          prometheus.NewCounter(prometheus.CounterOpts{Name: GatewayDropped, Help: "Notifications dropped because a client fell behind"}),
	}
	reg.MustRegister(p.PublishersGauge, p.RecipientsGauge, p.Routed, p.Malformed, p.Unrouted, p.AuthOK, p.AuthFailed, p.SessionLookupLat,
		p.Connections, p.Dropped)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	switch name {
	case Publishers:
		p.PublishersGauge.Set(value)
	case Recipients:
		p.RecipientsGauge.Set(value)
	case GatewayConnections:
		p.Connections.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	switch name {
	case MessagesRouted:
		p.Routed.Add(delta)
	case MessagesBad:
		p.Malformed.Add(delta)
	case MessagesUnrouted:
		p.Unrouted.Add(delta)
	case AuthSuccess:
		p.AuthOK.Add(delta)
	case AuthFailure:
		p.AuthFailed.Add(delta)
	case GatewayDropped:
		p.Dropped.Add(delta)
	}
}

// Observe supports selected summaries/histograms
func (p *Prom) Observe(name string, value float64) {
	switch name {
	case SessionLookupMs:
		p.SessionLookupLat.Observe(value)
	default:
		// ignore unknown for now
	}
}
