// ABOUTME: HTTP handlers for the controller-facing broker API.
// ABOUTME: One path per operation, JSON bodies, taxonomy-mapped error statuses.

package broker

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/marrowdev/marrow/internal/events"
	"github.com/marrowdev/marrow/internal/heap"
	"github.com/marrowdev/marrow/internal/invoke"
	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/resolve"
	"github.com/marrowdev/marrow/internal/typeres"
	"github.com/marrowdev/marrow/internal/wire"
)

// clientTokenLifetime bounds how long a registration token stays valid.
const clientTokenLifetime = 24 * time.Hour

// recoverMiddleware isolates handler panics: a fault in one operation must
// never take down the host process. The panic is reported to the controller
// as a structured error carrying the stack trace.
func (b *Broker) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := string(debug.Stack())
				b.logger.Error("handler panic",
					"path", r.URL.Path,
					"panic", rec,
					"stack", stack,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(wire.ErrorResponse{
					Error: "internal panic",
					Stack: stack,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a successful JSON response.
func (b *Broker) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.logger.Error("failed to encode response", "error", err)
	}
}

// sendError writes a structured error response with a status derived from
// the error's position in the taxonomy.
func (b *Broker) sendError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(wire.ErrorResponse{Error: err.Error()})
}

// sendBadRequest writes a plain 400 with the given message.
func (b *Broker) sendBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(wire.ErrorResponse{Error: message})
}

// statusFor maps broker errors to HTTP statuses. Anything unrecognized is an
// internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pinned.ErrNotPinned),
		errors.Is(err, typeres.ErrTypeNotFound),
		errors.Is(err, events.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, resolve.ErrCollected):
		return http.StatusGone
	case errors.Is(err, resolve.ErrMoved),
		errors.Is(err, resolve.ErrAmbiguous):
		return http.StatusConflict
	case errors.Is(err, invoke.ErrResolution),
		errors.Is(err, invoke.ErrOutOfRange),
		errors.Is(err, events.ErrNotEventSource),
		errors.Is(err, events.ErrUnknownEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// handlePing answers the liveness probe with the current pin count.
// Also used as the probe target by controller-side event monitors.
func (b *Broker) handlePing(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, wire.PingResponse{
		Status: "ok",
		Pinned: b.pins.Count(),
	})
}

// handleDie handles POST /die by acknowledging and requesting shutdown.
// The response is written before the server starts draining.
func (b *Broker) handleDie(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	b.writeJSON(w, map[string]string{"status": "shutting down"})
	b.requestDie()
}

// handleRegisterClient assigns a client ID and, when auth is enabled, issues
// the bearer token for subsequent requests.
func (b *Broker) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req wire.RegisterClientRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	clientID := uuid.New().String()

	b.mu.Lock()
	b.clients[clientID] = clientEntry{name: req.Name, registeredAt: time.Now()}
	b.mu.Unlock()

	resp := wire.RegisterClientResponse{ClientID: clientID}
	if b.verifier != nil {
		token, err := b.verifier.Generate(clientID, clientTokenLifetime)
		if err != nil {
			b.sendError(w, err)
			return
		}
		resp.Token = token
	}

	b.logger.Info("client registered", "client_id", clientID, "name", req.Name)
	b.writeJSON(w, resp)
}

// handleUnregisterClient removes a client registration. Idempotent: unknown
// IDs are treated as already gone.
func (b *Broker) handleUnregisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req wire.UnregisterClientRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	b.mu.Lock()
	delete(b.clients, req.ClientID)
	b.mu.Unlock()

	b.logger.Info("client unregistered", "client_id", req.ClientID)
	b.writeJSON(w, map[string]string{"status": "ok"})
}

// handleHeap handles GET /heap: refreshes the snapshot and enumerates live
// objects, optionally filtered by exact type name. Identity hashes are
// computed only on request since they force materialization of every record.
func (b *Broker) handleHeap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := b.heapMgr.Refresh(); err != nil {
		b.sendError(w, err)
		return
	}

	typeFilter := r.URL.Query().Get("type")
	withHash := r.URL.Query().Get("hash") != ""

	records, err := b.heapMgr.Enumerate(typeFilter)
	if err != nil {
		b.sendError(w, err)
		return
	}

	resp := wire.HeapResponse{Records: make([]wire.HeapRecord, 0, len(records))}
	for _, rec := range records {
		hr := wire.HeapRecord{Address: rec.Addr, TypeName: rec.TypeName}
		if withHash {
			if obj, err := rec.Get(); err == nil {
				hr.Hash = heap.IdentityHash(obj)
			}
		}
		resp.Records = append(resp.Records, hr)
	}

	b.writeJSON(w, resp)
}

// handleTypeResolve handles GET /types/resolve?name=X.
func (b *Broker) handleTypeResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		b.sendBadRequest(w, "name query parameter is required")
		return
	}

	desc, err := b.types.Resolve(name)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.TypeResolveResponse{Name: desc.Name, Module: desc.Module})
}

// handleTypeDump handles GET /types/dump?name=X, describing the fields,
// methods, and events of a registered type.
func (b *Broker) handleTypeDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		b.sendBadRequest(w, "name query parameter is required")
		return
	}

	dump, err := b.types.Dump(name)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, dump)
}

// handleObject handles POST /object: materialize and pin the object at an
// address, falling back to the identity hash if the object moved.
func (b *Broker) handleObject(w http.ResponseWriter, r *http.Request) {
	var req wire.ObjectRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	obj, h, err := b.resolver.Resolve(r.Context(), req.Address, req.TypeName, req.Hash)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.ObjectResponse{
		Handle:   h,
		TypeName: typeres.TypeName(reflect.TypeOf(obj)),
	})
}

// handleCreateObject handles POST /create_object.
func (b *Broker) handleCreateObject(w http.ResponseWriter, r *http.Request) {
	var req wire.ConstructRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	resp, err := b.surface.Construct(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, resp)
}

// handleCreateArray handles POST /create_array.
func (b *Broker) handleCreateArray(w http.ResponseWriter, r *http.Request) {
	var req wire.ConstructArrayRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	resp, err := b.surface.ConstructArray(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, resp)
}

// handleInvoke handles POST /invoke for instance, static, and generic calls.
func (b *Broker) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req wire.InvokeRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Method == "" {
		b.sendBadRequest(w, "method is required")
		return
	}

	resp, err := b.surface.Invoke(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, resp)
}

// handleGetField handles POST /get_field.
func (b *Broker) handleGetField(w http.ResponseWriter, r *http.Request) {
	var req wire.FieldRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Field == "" {
		b.sendBadRequest(w, "field is required")
		return
	}

	val, err := b.surface.GetField(req.Handle, req.TypeName, req.Field)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.FieldResponse{Value: val})
}

// handleSetField handles POST /set_field. The response carries the freshly
// read-back value so the controller observes any runtime coercion.
func (b *Broker) handleSetField(w http.ResponseWriter, r *http.Request) {
	var req wire.FieldRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Field == "" {
		b.sendBadRequest(w, "field is required")
		return
	}
	if req.Value == nil {
		b.sendBadRequest(w, "value is required")
		return
	}

	val, err := b.surface.SetField(req.Handle, req.TypeName, req.Field, *req.Value)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.FieldResponse{Value: val})
}

// handleGetItem handles POST /get_item for positional, keyed, and enumerable
// element access.
func (b *Broker) handleGetItem(w http.ResponseWriter, r *http.Request) {
	var req wire.IndexRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	val, err := b.surface.Index(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.IndexResponse{Value: val})
}

// handleUnpin handles POST /unpin. Best-effort: unpinning an unknown handle
// is not an error.
func (b *Broker) handleUnpin(w http.ResponseWriter, r *http.Request) {
	var req wire.UnpinRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	b.pins.Unpin(req.Handle)
	b.writeJSON(w, map[string]string{"status": "ok"})
}

// handleBatchMembers handles POST /batch/members.
func (b *Broker) handleBatchMembers(w http.ResponseWriter, r *http.Request) {
	var req wire.BatchMembersRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	resp, err := b.surface.BatchMembers(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, resp)
}

// handleBatchCollection handles POST /batch/collection.
func (b *Broker) handleBatchCollection(w http.ResponseWriter, r *http.Request) {
	var req wire.BatchCollectionRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	resp, err := b.surface.BatchCollection(req)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, resp)
}

// handleSubscribe handles POST /event/subscribe.
func (b *Broker) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req wire.SubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Event == "" || req.Callback == "" {
		b.sendBadRequest(w, "event and callback are required")
		return
	}

	token, err := b.bridge.Subscribe(req.Handle, req.Event, req.Callback, req.ProbeURL)
	if err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, wire.SubscribeResponse{Token: token})
}

// handleUnsubscribe handles POST /event/unsubscribe.
func (b *Broker) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req wire.UnsubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		b.sendBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := b.bridge.Unsubscribe(req.Token); err != nil {
		b.sendError(w, err)
		return
	}

	b.writeJSON(w, map[string]string{"status": "ok"})
}
