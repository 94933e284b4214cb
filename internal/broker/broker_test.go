// ABOUTME: Tests for the broker HTTP API and lifecycle.
// ABOUTME: Covers handler round trips, error status mapping, auth, and panic isolation.

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrowdev/marrow/internal/config"
	"github.com/marrowdev/marrow/internal/heap"
	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

type counter struct {
	Total int
}

func (c *counter) Add(n int) int {
	c.Total += n
	return c.Total
}

func (c *counter) Explode() {
	panic("counter exploded")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T, jwtSecret string) (*Broker, *heap.Registry) {
	t.Helper()

	exposure := heap.NewRegistry()
	types := typeres.NewResolver()
	types.Register("test", reflect.TypeOf(counter{}))

	cfg := config.Default()
	cfg.Auth.JWTSecret = jwtSecret

	b, err := New(Options{
		Config:     cfg,
		Types:      types,
		HeapSource: exposure.Factory(),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})

	return b, exposure
}

// do runs a request directly against the broker's handler.
func do(b *Broker, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	b.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestPing(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.PingResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Pinned)
}

func TestRegisterClient_NoAuth(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodPost, "/register_client", wire.RegisterClientRequest{Name: "test-controller"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.RegisterClientResponse](t, rec)
	assert.NotEmpty(t, resp.ClientID)
	assert.Empty(t, resp.Token, "no token expected when auth is disabled")
}

func TestRegisterClient_WithAuth(t *testing.T) {
	b, _ := newTestBroker(t, "test-secret")

	rec := do(b, http.MethodPost, "/register_client", wire.RegisterClientRequest{Name: "test-controller"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.RegisterClientResponse](t, rec)
	require.NotEmpty(t, resp.Token)

	// A protected endpoint rejects requests without the token.
	rec = do(b, http.MethodGet, "/heap", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// And accepts them with it.
	req := httptest.NewRequest(http.MethodGet, "/heap", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	authed := httptest.NewRecorder()
	b.httpServer.Handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
}

func TestUnregisterClient_Idempotent(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodPost, "/unregister_client", wire.UnregisterClientRequest{ClientID: "never-registered"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHeap_Enumerate(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{Total: 7}
	addr := exposure.Add(c)

	rec := do(b, http.MethodGet, "/heap", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.HeapResponse](t, rec)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, addr, resp.Records[0].Address)
	assert.Equal(t, typeres.TypeName(reflect.TypeOf(c)), resp.Records[0].TypeName)
	assert.Zero(t, resp.Records[0].Hash, "hash computed only on request")
}

func TestHeap_TypeFilter(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	exposure.Add(&counter{})
	exposure.Add("just a string")

	typeName := typeres.TypeName(reflect.TypeOf(&counter{}))
	rec := do(b, http.MethodGet, "/heap?type="+typeName, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.HeapResponse](t, rec)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, typeName, resp.Records[0].TypeName)
}

func TestTypeResolve(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodGet, "/types/resolve?name=counter", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.TypeResolveResponse](t, rec)
	assert.Equal(t, "counter", resp.Name)
	assert.Equal(t, "test", resp.Module)
}

func TestTypeResolve_UnknownType(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodGet, "/types/resolve?name=nosuchtype", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[wire.ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "type not found")
}

func TestTypeDump(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodGet, "/types/dump?name=counter", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.TypeDumpResponse](t, rec)
	assert.Equal(t, "counter", resp.Name)

	var methodNames []string
	for _, m := range resp.Methods {
		methodNames = append(methodNames, m.Name)
	}
	assert.Contains(t, methodNames, "Add")
}

func TestObject_ThenInvoke(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{Total: 10}
	addr := exposure.Add(c)
	typeName := typeres.TypeName(reflect.TypeOf(c))

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{Address: addr, TypeName: typeName})
	require.Equal(t, http.StatusOK, rec.Code)

	obj := decode[wire.ObjectResponse](t, rec)
	require.NotZero(t, obj.Handle)
	assert.Equal(t, typeName, obj.TypeName)

	rec = do(b, http.MethodPost, "/invoke", wire.InvokeRequest{
		Handle: obj.Handle,
		Method: "Add",
		Args:   []wire.Value{{Kind: wire.KindPrimitive, Raw: "5"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[wire.InvokeResponse](t, rec)
	assert.Equal(t, "15", result.Result.Raw)
	assert.Equal(t, 15, c.Total, "call mutated the live object")
}

func TestObject_Collected(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{
		Address:  0xdead,
		TypeName: typeres.TypeName(reflect.TypeOf(&counter{})),
	})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestGetSetField(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{Total: 3}
	addr := exposure.Add(c)

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{
		Address:  addr,
		TypeName: typeres.TypeName(reflect.TypeOf(c)),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decode[wire.ObjectResponse](t, rec)

	rec = do(b, http.MethodPost, "/get_field", wire.FieldRequest{Handle: obj.Handle, Field: "Total"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[wire.FieldResponse](t, rec)
	assert.Equal(t, "3", got.Value.Raw)

	newVal := wire.Value{Kind: wire.KindPrimitive, Raw: "42"}
	rec = do(b, http.MethodPost, "/set_field", wire.FieldRequest{Handle: obj.Handle, Field: "Total", Value: &newVal})
	require.Equal(t, http.StatusOK, rec.Code)
	set := decode[wire.FieldResponse](t, rec)
	assert.Equal(t, "42", set.Value.Raw)
	assert.Equal(t, 42, c.Total)
}

func TestGetField_UnknownHandle(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodPost, "/get_field", wire.FieldRequest{Handle: 12345, Field: "Total"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvoke_TargetPanicIsolated(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{}
	addr := exposure.Add(c)

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{
		Address:  addr,
		TypeName: typeres.TypeName(reflect.TypeOf(c)),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decode[wire.ObjectResponse](t, rec)

	rec = do(b, http.MethodPost, "/invoke", wire.InvokeRequest{Handle: obj.Handle, Method: "Explode"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decode[wire.ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "counter exploded")

	// The broker is still alive after the fault.
	rec = do(b, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnpin(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{}
	addr := exposure.Add(c)

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{
		Address:  addr,
		TypeName: typeres.TypeName(reflect.TypeOf(c)),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decode[wire.ObjectResponse](t, rec)

	rec = do(b, http.MethodPost, "/unpin", wire.UnpinRequest{Handle: obj.Handle})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unpinning again is best-effort, never an error.
	rec = do(b, http.MethodPost, "/unpin", wire.UnpinRequest{Handle: obj.Handle})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchMembers(t *testing.T) {
	b, exposure := newTestBroker(t, "")

	c := &counter{Total: 9}
	addr := exposure.Add(c)

	rec := do(b, http.MethodPost, "/object", wire.ObjectRequest{
		Address:  addr,
		TypeName: typeres.TypeName(reflect.TypeOf(c)),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decode[wire.ObjectResponse](t, rec)

	rec = do(b, http.MethodPost, "/batch/members", wire.BatchMembersRequest{
		Handle: obj.Handle,
		Paths:  []string{"Total", "NoSuchMember"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[wire.BatchMembersResponse](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "9", resp.Results[0].Value.Raw)
	assert.Empty(t, resp.Results[0].Error)
	assert.NotEmpty(t, resp.Results[1].Error, "bad path fails per-entry, not the batch")
}

func TestMalformedBody(t *testing.T) {
	b, _ := newTestBroker(t, "")

	req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	b.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[wire.ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "invalid request body")
}

func TestIdleTimeoutFromConfig(t *testing.T) {
	exposure := heap.NewRegistry()
	types := typeres.NewResolver()
	types.Register("test", reflect.TypeOf(counter{}))

	cfg := config.Default()
	cfg.Server.IdleTimeout = 45 * time.Second

	b, err := New(Options{Config: cfg, Types: types, HeapSource: exposure.Factory(), Logger: testLogger()})
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, b.httpServer.ReadTimeout)
	assert.Equal(t, 45*time.Second, b.httpServer.IdleTimeout)
}

func TestIdleTimeoutDefault(t *testing.T) {
	b, _ := newTestBroker(t, "")

	assert.Equal(t, defaultIdleTimeout, b.httpServer.ReadTimeout)
	assert.Equal(t, defaultIdleTimeout, b.httpServer.IdleTimeout)
}

func TestDie_ShutsDownRunLoop(t *testing.T) {
	b, _ := newTestBroker(t, "")

	rec := do(b, http.MethodPost, "/die", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-b.dieCh:
	default:
		t.Fatal("die request did not signal the run loop")
	}
}

func TestRun_GracefulShutdownOnCancel(t *testing.T) {
	exposure := heap.NewRegistry()
	types := typeres.NewResolver()
	types.Register("test", reflect.TypeOf(counter{}))

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"

	b, err := New(Options{Config: cfg, Types: types, HeapSource: exposure.Factory(), Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// Wait for the listener to come up.
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/ping", b.Addr()))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
