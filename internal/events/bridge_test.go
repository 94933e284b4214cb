// ABOUTME: Tests for the event bridge and the embeddable emitter.
// ABOUTME: Covers subscription validation, callback delivery, ordering, and dead-subscriber sweeps.

package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/wire"
)

type alarm struct {
	*Emitter
	Zone string
}

func newAlarm(zone string) *alarm {
	return &alarm{Emitter: NewEmitter("triggered", "cleared"), Zone: zone}
}

// collector is a controller-side callback endpoint capturing deliveries.
type collector struct {
	srv *httptest.Server

	mu         sync.Mutex
	deliveries []wire.EventDelivery
	pingOK     bool
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{pingOK: true}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			c.mu.Lock()
			ok := c.pingOK
			c.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/callback":
			var d wire.EventDelivery
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			c.mu.Lock()
			c.deliveries = append(c.deliveries, d)
			c.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) callbackURL() string { return c.srv.URL + "/callback" }

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func (c *collector) delivered() []wire.EventDelivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.EventDelivery, len(c.deliveries))
	copy(out, c.deliveries)
	return out
}

func (c *collector) setPingOK(ok bool) {
	c.mu.Lock()
	c.pingOK = ok
	c.mu.Unlock()
}

func newTestBridge(t *testing.T, interval time.Duration) (*Bridge, *pinned.Registry) {
	t.Helper()
	pins := pinned.NewRegistry(0, nil)
	t.Cleanup(pins.Close)

	b := NewBridge(pins, interval, 0, nil)
	t.Cleanup(b.Close)
	return b, pins
}

func TestSubscribe_Validation(t *testing.T) {
	b, pins := newTestBridge(t, time.Minute)

	_, err := b.Subscribe(999, "triggered", "http://127.0.0.1:1/cb", "")
	assert.ErrorIs(t, err, pinned.ErrNotPinned)

	plain := pins.Pin(&struct{ X int }{})
	_, err = b.Subscribe(plain, "triggered", "http://127.0.0.1:1/cb", "")
	assert.ErrorIs(t, err, ErrNotEventSource)

	a := pins.Pin(newAlarm("hall"))
	_, err = b.Subscribe(a, "no_such_event", "http://127.0.0.1:1/cb", "")
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = b.Subscribe(a, "triggered", "not a url", "")
	assert.Error(t, err, "probe URL cannot be derived")
}

func TestSubscribe_DeliversFirings(t *testing.T) {
	b, pins := newTestBridge(t, time.Minute)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)

	token, err := b.Subscribe(h, "triggered", c.callbackURL(), "")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, 1, b.Active())

	a.Fire(a, "triggered", "smoke")

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	d := c.delivered()[0]
	assert.Equal(t, token, d.Token)
	assert.Equal(t, "triggered", d.Event)
	assert.Equal(t, wire.KindHandle, d.Sender.Kind)
	assert.Equal(t, "smoke", d.Arg.Raw)

	// The sender handle is live and resolvable.
	obj, ok := pins.TryGet(d.Sender.Handle)
	require.True(t, ok)
	assert.Same(t, a, obj)
}

func TestSubscribe_SameEventOrdered(t *testing.T) {
	b, pins := newTestBridge(t, time.Minute)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)
	_, err := b.Subscribe(h, "triggered", c.callbackURL(), "")
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		a.Fire(a, "triggered", i)
	}

	require.Eventually(t, func() bool { return c.count() == n }, 5*time.Second, 10*time.Millisecond)

	for i, d := range c.delivered() {
		assert.Equal(t, wire.KindPrimitive, d.Arg.Kind)
		assert.Equal(t, int64(i), mustInt(t, d.Arg.Raw))
	}
}

func TestSubscribe_NilArgTravelsAsNull(t *testing.T) {
	b, pins := newTestBridge(t, time.Minute)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)
	_, err := b.Subscribe(h, "cleared", c.callbackURL(), "")
	require.NoError(t, err)

	a.Fire(a, "cleared", nil)

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, wire.KindNull, c.delivered()[0].Arg.Kind)
}

func TestUnsubscribe(t *testing.T) {
	b, pins := newTestBridge(t, time.Minute)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)
	token, err := b.Subscribe(h, "triggered", c.callbackURL(), "")
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe(token))
	assert.Equal(t, 0, b.Active())

	// Detached: further firings reach nobody.
	a.Fire(a, "triggered", "smoke")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())

	assert.ErrorIs(t, b.Unsubscribe(token), ErrUnknownToken)
}

func TestMonitor_DropsDeadSubscriber(t *testing.T) {
	b, pins := newTestBridge(t, 20*time.Millisecond)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)
	_, err := b.Subscribe(h, "triggered", c.callbackURL(), "")
	require.NoError(t, err)
	require.Equal(t, 1, b.Active())

	c.setPingOK(false)

	assert.Eventually(t, func() bool { return b.Active() == 0 }, 2*time.Second, 10*time.Millisecond)

	// The handler was detached along with the registration.
	a.Fire(a, "triggered", "smoke")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestClose_DetachesEverything(t *testing.T) {
	pins := pinned.NewRegistry(0, nil)
	defer pins.Close()
	b := NewBridge(pins, time.Minute, 0, nil)
	c := newCollector(t)

	a := newAlarm("hall")
	h := pins.Pin(a)
	_, err := b.Subscribe(h, "triggered", c.callbackURL(), "")
	require.NoError(t, err)

	b.Close()
	b.Close()
	assert.Equal(t, 0, b.Active())

	a.Fire(a, "triggered", "smoke")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestEmitter(t *testing.T) {
	e := NewEmitter("opened", "closed")
	assert.Equal(t, []string{"opened", "closed"}, e.EventNames())

	var nilEmitter *Emitter
	assert.Nil(t, nilEmitter.EventNames())

	var got []any
	detach, err := e.AttachEvent("opened", func(sender, arg any) {
		got = append(got, arg)
	})
	require.NoError(t, err)

	e.Fire(nil, "opened", 1)
	e.Fire(nil, "closed", 2) // no handler attached
	e.Fire(nil, "opened", 3)
	assert.Equal(t, []any{1, 3}, got)

	detach()
	e.Fire(nil, "opened", 4)
	assert.Equal(t, []any{1, 3}, got)

	_, err = e.AttachEvent("bogus", func(sender, arg any) {})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDeriveProbeURL(t *testing.T) {
	url, err := deriveProbeURL("http://127.0.0.1:9000/callback?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/ping", url)

	_, err = deriveProbeURL("bogus")
	assert.Error(t, err)
}

func mustInt(t *testing.T, raw string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return n
}
