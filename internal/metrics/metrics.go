// Package metrics exposes messaging hub activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

const namespace = "socialchat"

// Collector implements messaging.Metrics on its own registry.
type Collector struct {
	registry      *prometheus.Registry
	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	messagesSent  *prometheus.CounterVec
	notifications prometheus.Counter
	dropped       prometheus.Counter
	rejected      prometheus.Counter
}

var _ messaging.Metrics = (*Collector)(nil)

// New registers the hub collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Number of users with at least one open connection.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted, labelled by whether the recipient was viewing the conversation.",
		}, []string{"read"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "New message notifications delivered to recipients outside the conversation.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Frames dropped because a connection's send buffer was full.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_rejected_total",
			Help:      "Connection attempts rejected by the hub.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connections,
		c.onlineUsers,
		c.messagesSent,
		c.notifications,
		c.dropped,
		c.rejected,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ConnectionOpened() { c.connections.Inc() }

func (c *Collector) ConnectionClosed() { c.connections.Dec() }

func (c *Collector) UsersOnline(n int) { c.onlineUsers.Set(float64(n)) }

func (c *Collector) MessageSent(read bool) {
	c.messagesSent.WithLabelValues(strconv.FormatBool(read)).Inc()
}

func (c *Collector) NotificationSent() { c.notifications.Inc() }

func (c *Collector) BroadcastDropped() { c.dropped.Inc() }

func (c *Collector) ConnectRejected() { c.rejected.Inc() }
