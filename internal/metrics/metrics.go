// Package metrics exposes Prometheus collectors for the bus, the
// transport and the devices. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberlab/devgate/pkg/sdk"
)

const namespace = "devgate"

type Metrics struct {
	reg *prometheus.Registry

	events     *prometheus.CounterVec
	wsClients  prometheus.Gauge
	wsMessages *prometheus.CounterVec
	wsErrors   *prometheus.CounterVec
	requests   *prometheus.CounterVec
	assets     *prometheus.CounterVec
	captive    prometheus.Counter
}

// New builds a registry with the devgate collectors plus Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Events published on the bus, by kind.",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "WebSocket text frames, by direction.",
		}, []string{"direction"}),
		wsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "errors_total",
			Help:      "Inbound WebSocket frames that failed, by error code.",
		}, []string{"code"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Dispatched device requests, by device and result.",
		}, []string{"device", "result"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "asset_responses_total",
			Help:      "Asset responses, by status code.",
		}, []string{"status"}),
		captive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "captive_redirects_total",
			Help:      "Captive-portal probes redirected to the access point.",
		}),
	}
	m.reg.MustRegister(
		m.events, m.wsClients, m.wsMessages, m.wsErrors, m.requests, m.assets, m.captive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Attach counts every event published on bus.
func (m *Metrics) Attach(bus sdk.Bus) sdk.Subscription {
	return bus.Subscribe(m.Observe)
}

func (m *Metrics) Observe(ev sdk.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Kind()).Inc()
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

// Message counts one frame; direction is "in" or "out".
func (m *Metrics) Message(direction string) {
	if m != nil {
		m.wsMessages.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) FrameError(err error) {
	if m != nil {
		m.wsErrors.WithLabelValues(sdk.ErrorCode(err)).Inc()
	}
}

// Request counts one dispatch result. A nil err counts as "ok".
func (m *Metrics) Request(device string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = sdk.ErrorCode(err)
	}
	m.requests.WithLabelValues(device, result).Inc()
}

func (m *Metrics) Asset(status int) {
	if m != nil {
		m.assets.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) CaptiveRedirect() {
	if m != nil {
		m.captive.Inc()
	}
}

// RegisterFunc adds a gauge read from fn at scrape time.
func (m *Metrics) RegisterFunc(subsystem, name, help string, fn func() float64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}
