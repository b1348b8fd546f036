package alerting

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/model"
)

// ChannelSpec names the notifier and target handle behind a logical channel.
type ChannelSpec struct {
	Notifier string
	Target   string
}

// Recorder receives every successfully delivered event.
type Recorder interface {
	RecordAlert(ctx context.Context, channel string, event model.AlertEvent) error
}

// DispatcherOptions tune delivery.
type DispatcherOptions struct {
	MinSpacing  time.Duration
	SendTimeout time.Duration
	Recorder    Recorder
}

type channelTarget struct {
	notifier Notifier
	handle   string
	gate     *spacingGate
}

// Dispatcher resolves logical channels once and delivers events to them.
type Dispatcher struct {
	targets    map[string]channelTarget
	unresolved []*ConfigurationError
	opts       DispatcherOptions
	logger     zerolog.Logger
	inflight   sync.WaitGroup
}

// NewDispatcher resolves every channel against the enabled notifiers. Channels
// that fail to resolve are logged once and become permanent no-ops.
func NewDispatcher(channels map[string]ChannelSpec, notifiers []Notifier, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		targets: make(map[string]channelTarget, len(channels)),
		opts:    opts,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}

	byName := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			byName[n.Name()] = n
		}
	}

	gates := make(map[string]*spacingGate)
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := channels[name]
		handle := strings.TrimSpace(spec.Target)
		notifier, ok := byName[strings.ToLower(strings.TrimSpace(spec.Notifier))]
		switch {
		case spec.Notifier == "":
			d.unresolve(name, "no notifier configured")
			continue
		case !ok:
			d.unresolve(name, "notifier "+spec.Notifier+" is not enabled")
			continue
		case handle == "":
			d.unresolve(name, "no target configured")
			continue
		}

		key := notifier.Name() + "/" + handle
		gate, ok := gates[key]
		if !ok {
			gate = newSpacingGate(opts.MinSpacing)
			gates[key] = gate
		}
		d.targets[name] = channelTarget{notifier: notifier, handle: handle, gate: gate}
		d.logger.Info().Str("channel", name).Str("notifier", notifier.Name()).Msg("channel resolved")
	}
	return d
}

func (d *Dispatcher) unresolve(name, reason string) {
	cfgErr := &ConfigurationError{Channel: name, Reason: reason}
	d.unresolved = append(d.unresolved, cfgErr)
	d.logger.Warn().Err(cfgErr).Str("channel", name).Msg("channel disabled")
}

// Unresolved lists the channels rejected at startup.
func (d *Dispatcher) Unresolved() []*ConfigurationError {
	return d.unresolved
}

// Resolved reports whether the channel has a delivery target.
func (d *Dispatcher) Resolved(channel string) bool {
	_, ok := d.targets[channel]
	return ok
}

// Deliver sends one event to a channel. Unknown or unresolved channels are a
// silent no-op. Transport failures come back as *DeliveryError.
func (d *Dispatcher) Deliver(ctx context.Context, channel string, event model.AlertEvent) error {
	target, ok := d.targets[channel]
	if !ok {
		return nil
	}

	if err := target.gate.wait(ctx); err != nil {
		return &DeliveryError{Channel: channel, Notifier: target.notifier.Name(), Err: err}
	}

	if err := target.notifier.Send(ctx, target.handle, event); err != nil {
		return &DeliveryError{Channel: channel, Notifier: target.notifier.Name(), Err: err}
	}

	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.RecordAlert(ctx, channel, event); err != nil {
			d.logger.Warn().Err(err).Str("channel", channel).Str("event_id", event.ID).Msg("record alert failed")
		}
	}
	return nil
}

// Send delivers and logs any failure instead of returning it.
func (d *Dispatcher) Send(ctx context.Context, channel string, event model.AlertEvent) {
	err := d.Deliver(ctx, channel, event)
	if err == nil {
		return
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		d.logger.Error().Err(de.Err).
			Str("channel", de.Channel).
			Str("notifier", de.Notifier).
			Str("kind", string(event.Kind)).
			Str("event_id", event.ID).
			Msg("delivery failed")
		return
	}
	d.logger.Error().Err(err).Str("channel", channel).Msg("delivery failed")
}

// Submit hands the event to a background goroutine and returns immediately.
// The send outlives ctx cancellation but is bounded by the send timeout.
func (d *Dispatcher) Submit(ctx context.Context, channel string, event model.AlertEvent) {
	if !d.Resolved(channel) {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.SendTimeout)
		defer cancel()
		d.Send(sendCtx, channel, event)
	}()
}

// Wait blocks until every submitted send has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// spacingGate enforces a minimum interval between consecutive sends to one
// target. Callers reserve the next free slot and sleep until it.
type spacingGate struct {
	mu      sync.Mutex
	spacing time.Duration
	next    time.Time
}

func newSpacingGate(spacing time.Duration) *spacingGate {
	return &spacingGate{spacing: spacing}
}

func (g *spacingGate) wait(ctx context.Context) error {
	if g.spacing <= 0 {
		return ctx.Err()
	}

	g.mu.Lock()
	now := time.Now()
	slot := g.next
	if slot.Before(now) {
		slot = now
	}
	g.next = slot.Add(g.spacing)
	g.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
