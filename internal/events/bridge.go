// ABOUTME: Bridges host-side events to controller callbacks over the reverse channel.
// ABOUTME: Per-event-name queues keep same-kind firings ordered; a monitor drops dead subscribers.

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

// Subscription errors.
var (
	ErrNotEventSource = errors.New("target exposes no events")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrUnknownToken   = errors.New("unknown registration token")
)

// defaultQueueSize is the channel buffer for each per-event-name delivery
// queue when no size is configured.
const defaultQueueSize = 64

// Source is implemented by host objects that expose attachable events.
// Handlers have a fixed shape: sender plus a single argument object.
// AttachEvent returns a detach function.
type Source interface {
	EventNames() []string
	AttachEvent(name string, handler func(sender, arg any)) (func(), error)
}

// registration is one live event subscription.
type registration struct {
	token    string
	event    string
	target   wire.Handle
	callback string
	probeURL string
	detach   func()
}

// delivery is one queued event firing on its way to a subscriber.
type delivery struct {
	callback string
	payload  wire.EventDelivery
}

// Bridge attaches forwarding handlers to host events and pushes firings to
// controller callback endpoints. Firings of the same event name are
// delivered in order through a dedicated queue; unrelated events proceed
// concurrently. A background monitor probes subscribers and silently drops
// the ones that stop responding.
type Bridge struct {
	mu     sync.Mutex
	regs   map[string]*registration
	queues map[string]chan delivery

	pins      *pinned.Registry
	client    *http.Client
	interval  time.Duration
	queueSize int
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBridge creates a bridge. interval sets the liveness-probe period and
// queueSize the per-event delivery buffer; zero values select the defaults.
func NewBridge(pins *pinned.Registry, interval time.Duration, queueSize int, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bridge{
		regs:      make(map[string]*registration),
		queues:    make(map[string]chan delivery),
		pins:      pins,
		client:    &http.Client{Timeout: 3 * time.Second},
		interval:  interval,
		queueSize: queueSize,
		logger:    logger.With("component", "events"),
		done:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.monitor()
	return b
}

// Subscribe validates the event against the target's source interface,
// attaches a forwarding handler, and returns a registration token.
func (b *Bridge) Subscribe(target wire.Handle, event, callback, probeURL string) (string, error) {
	obj, ok := b.pins.TryGet(target)
	if !ok {
		return "", fmt.Errorf("%w: %#x", pinned.ErrNotPinned, uint64(target))
	}

	src, ok := obj.(Source)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotEventSource, typeres.TypeName(reflect.TypeOf(obj)))
	}
	if !hasEvent(src, event) {
		return "", fmt.Errorf("%w: %q on %s", ErrUnknownEvent, event, typeres.TypeName(reflect.TypeOf(obj)))
	}

	if probeURL == "" {
		derived, err := deriveProbeURL(callback)
		if err != nil {
			return "", err
		}
		probeURL = derived
	}

	reg := &registration{
		token:    uuid.New().String(),
		event:    event,
		target:   target,
		callback: callback,
		probeURL: probeURL,
	}

	detach, err := src.AttachEvent(event, b.forwarder(reg))
	if err != nil {
		return "", fmt.Errorf("attaching to event %q: %w", event, err)
	}
	reg.detach = detach

	b.mu.Lock()
	b.regs[reg.token] = reg
	b.mu.Unlock()

	b.logger.Info("event subscribed",
		"token", reg.token,
		"event", event,
		"callback", callback,
	)
	return reg.token, nil
}

// Unsubscribe detaches and removes a registration.
func (b *Bridge) Unsubscribe(token string) error {
	b.mu.Lock()
	reg, ok := b.regs[token]
	if ok {
		delete(b.regs, token)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}

	reg.detach()
	b.logger.Info("event unsubscribed", "token", token, "event", reg.event)
	return nil
}

// Active returns the number of live registrations.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.regs)
}

// forwarder builds the handler attached to the host event. Each firing is
// marshaled (primitives inline, objects pinned) and queued for asynchronous
// dispatch, ordered per event name.
func (b *Bridge) forwarder(reg *registration) func(sender, arg any) {
	return func(sender, arg any) {
		payload := wire.EventDelivery{
			Token:  reg.token,
			Event:  reg.event,
			Sender: b.marshal(sender),
			Arg:    b.marshal(arg),
		}
		b.enqueue(reg.event, delivery{callback: reg.callback, payload: payload})
	}
}

func (b *Bridge) marshal(obj any) wire.Value {
	if obj == nil {
		return wire.Null()
	}
	v := reflect.ValueOf(obj)
	if pv, ok := wire.EncodePrimitive(v); ok {
		return pv
	}
	h := b.pins.Pin(obj)
	return wire.FromHandle(h, typeres.TypeName(v.Type()))
}

// enqueue places a delivery on the ordering queue for its event name,
// starting the queue's dispatch goroutine on first use.
func (b *Bridge) enqueue(event string, d delivery) {
	b.mu.Lock()
	q, ok := b.queues[event]
	if !ok {
		select {
		case <-b.done:
			b.mu.Unlock()
			return
		default:
		}
		q = make(chan delivery, b.queueSize)
		b.queues[event] = q
		b.wg.Add(1)
		go b.dispatch(event, q)
	}
	b.mu.Unlock()

	select {
	case q <- d:
	default:
		b.logger.Warn("delivery queue full, dropping event", "event", event)
	}
}

// dispatch delivers queued firings for one event name, preserving order.
func (b *Bridge) dispatch(event string, q chan delivery) {
	defer b.wg.Done()
	for {
		select {
		case d := <-q:
			b.deliver(d)
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) deliver(d delivery) {
	body, err := json.Marshal(d.payload)
	if err != nil {
		b.logger.Error("failed to marshal event delivery", "error", err)
		return
	}

	resp, err := b.client.Post(d.callback, "application/json", bytes.NewReader(body))
	if err != nil {
		b.logger.Warn("event delivery failed", "callback", d.callback, "error", err)
		return
	}
	_ = resp.Body.Close()
}

// monitor periodically probes every subscriber endpoint and drops
// registrations whose endpoint stops responding. No notification is sent;
// the subscriber is gone.
func (b *Bridge) monitor() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweepDead()
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) sweepDead() {
	b.mu.Lock()
	probes := make(map[string][]*registration)
	for _, reg := range b.regs {
		probes[reg.probeURL] = append(probes[reg.probeURL], reg)
	}
	b.mu.Unlock()

	for probeURL, regs := range probes {
		if b.alive(probeURL) {
			continue
		}
		for _, reg := range regs {
			b.mu.Lock()
			_, still := b.regs[reg.token]
			if still {
				delete(b.regs, reg.token)
			}
			b.mu.Unlock()
			if still {
				reg.detach()
				b.logger.Info("dropped dead subscriber",
					"token", reg.token,
					"event", reg.event,
					"probe_url", probeURL,
				)
			}
		}
	}
}

func (b *Bridge) alive(probeURL string) bool {
	resp, err := b.client.Get(probeURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close detaches every registration and stops the monitor and queues.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		regs := make([]*registration, 0, len(b.regs))
		for _, reg := range b.regs {
			regs = append(regs, reg)
		}
		b.regs = make(map[string]*registration)
		b.mu.Unlock()

		for _, reg := range regs {
			reg.detach()
		}
		b.wg.Wait()
	})
}

func hasEvent(src Source, event string) bool {
	for _, name := range src.EventNames() {
		if name == event {
			return true
		}
	}
	return false
}

// deriveProbeURL points at /ping on the callback's host when no explicit
// probe URL was supplied.
func deriveProbeURL(callback string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("bad callback URL %q", callback)
	}
	u.Path = "/ping"
	u.RawQuery = ""
	return u.String(), nil
}
