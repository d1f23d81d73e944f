// Package metrics exposes the prometheus collectors for the delivery core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections_active",
		Help: "Number of websocket connections held by this process.",
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_room_broadcasts_total",
		Help: "Room broadcasts fanned out, by source (local or remote).",
	}, []string{"source"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by outcome.",
	}, []string{"outcome"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_errors_total",
		Help: "Protocol errors returned to sockets, by code.",
	}, []string{"code"})
)
