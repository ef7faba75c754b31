package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Alert kinds dispatched by the audit subsystem.
const (
	KindHighRiskAccess    = "high_risk_access"
	KindSuspiciousSession = "suspicious_session"
	KindIntegrityFailure  = "integrity_failure"
	KindAuditGap          = "audit_gap"
)

// Alert is one security notification. Alerts are advisory fan-out: they are
// dispatched after the triggering write has committed and their failure never
// rolls anything back.
type Alert struct {
	Kind    string            `json:"kind"`
	Summary string            `json:"summary"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// SortedFields returns the alert's field keys in stable order for rendering.
func (a Alert) SortedFields() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sink delivers an alert to one destination (Slack channel, redis topic, ...).
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Dispatcher fans alerts out to sinks from a background worker so hot paths
// never block on a notification. The buffer drops the incoming alert when
// full, with a warning, rather than applying backpressure to audit writes.
type Dispatcher struct {
	sinks       []Sink
	ch          chan Alert
	sendTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 64
	}
	return &Dispatcher{
		sinks:       sinks,
		ch:          make(chan Alert, buffer),
		sendTimeout: 10 * time.Second,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start launches the delivery worker. Safe to call once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case alert := <-d.ch:
					d.deliver(alert)
				default:
					return
				}
			}
		case alert := <-d.ch:
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := sink.Send(ctx, alert); err != nil {
			log.Warn().Err(err).Str("kind", alert.Kind).Msg("notify: sink delivery failed")
		}
		cancel()
	}
}

// Dispatch enqueues an alert without blocking. Returns immediately whether or
// not the alert fit in the buffer.
func (d *Dispatcher) Dispatch(alert Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	select {
	case d.ch <- alert:
	default:
		log.Warn().Str("kind", alert.Kind).Msg("notify: alert buffer full, dropping")
	}
}

// Close stops the worker after draining buffered alerts.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
