// ABOUTME: Request and response payloads for every broker operation.
// ABOUTME: Each operation has its own typed JSON body; no session state beyond handles.

package wire

// ErrorResponse is the structured failure payload. Stack is populated only
// when the broker decides the trace is useful for diagnosis (handler panics).
type ErrorResponse struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

// PingResponse answers the liveness probe.
type PingResponse struct {
	Status string `json:"status"`
	Pinned int    `json:"pinned"`
}

// RegisterClientRequest registers a controller with the agent.
type RegisterClientRequest struct {
	Name string `json:"name,omitempty"`
}

// RegisterClientResponse carries the assigned client ID and, when auth is
// enabled, a bearer token for subsequent requests.
type RegisterClientResponse struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token,omitempty"`
}

// UnregisterClientRequest removes a controller registration.
type UnregisterClientRequest struct {
	ClientID string `json:"client_id"`
}

// HeapRecord is one entry of a heap enumeration.
type HeapRecord struct {
	Address  uint64 `json:"address"`
	TypeName string `json:"type_name"`
	Hash     uint64 `json:"hash,omitempty"`
}

// HeapResponse answers GET /heap.
type HeapResponse struct {
	Records []HeapRecord `json:"records"`
}

// TypeResolveResponse answers GET /types/resolve.
type TypeResolveResponse struct {
	Name   string `json:"name"`
	Module string `json:"module"`
}

// MethodDump describes one callable member of a type.
type MethodDump struct {
	Name       string   `json:"name"`
	Params     []string `json:"params"`
	Returns    []string `json:"returns"`
	TypeParams []string `json:"type_params,omitempty"`
}

// FieldDump describes one field of a type.
type FieldDump struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypeDumpResponse answers GET /types/dump.
type TypeDumpResponse struct {
	Name    string       `json:"name"`
	Module  string       `json:"module"`
	Fields  []FieldDump  `json:"fields"`
	Methods []MethodDump `json:"methods"`
	Events  []string     `json:"events,omitempty"`
}

// ObjectRequest asks the broker to materialize the object at an address.
// Hash is the optional identity-hash fallback used when the object moved.
type ObjectRequest struct {
	Address  uint64  `json:"address"`
	TypeName string  `json:"type_name"`
	Hash     *uint64 `json:"hash,omitempty"`
}

// ObjectResponse returns the pinned handle for a materialized object.
type ObjectResponse struct {
	Handle   Handle `json:"handle"`
	TypeName string `json:"type_name"`
}

// InvokeRequest names a target (zero handle plus TypeName for a static
// call), a method, typed arguments, and generic type arguments.
type InvokeRequest struct {
	Handle   Handle   `json:"handle,omitempty"`
	TypeName string   `json:"type_name,omitempty"`
	Method   string   `json:"method"`
	Args     []Value  `json:"args,omitempty"`
	TypeArgs []string `json:"type_args,omitempty"`
}

// InvokeResponse carries the invocation result. Void methods set Void.
type InvokeResponse struct {
	Void   bool  `json:"void,omitempty"`
	Result Value `json:"result"`
}

// FieldRequest addresses a field on a pinned instance or a registered
// static of a type.
type FieldRequest struct {
	Handle   Handle `json:"handle,omitempty"`
	TypeName string `json:"type_name,omitempty"`
	Field    string `json:"field"`
	Value    *Value `json:"value,omitempty"` // set only
}

// FieldResponse returns the field value. For sets this is the freshly
// read-back value, surfacing any coercion done by the runtime.
type FieldResponse struct {
	Value Value `json:"value"`
}

// ConstructRequest builds a new instance of a registered type.
type ConstructRequest struct {
	TypeName string  `json:"type_name"`
	Args     []Value `json:"args,omitempty"`
}

// ConstructArrayRequest builds a new array. Either Length or ElementArgs is
// set; ElementArgs constructs one element per argument set.
type ConstructArrayRequest struct {
	ElementType string    `json:"element_type"`
	Length      *int      `json:"length,omitempty"`
	ElementArgs [][]Value `json:"element_args,omitempty"`
}

// IndexRequest reads one element out of an array, slice, map, or enumerable.
type IndexRequest struct {
	Handle Handle `json:"handle"`
	Key    Value  `json:"key"`
}

// IndexResponse returns the element at the requested position.
type IndexResponse struct {
	Value Value `json:"value"`
}

// UnpinRequest releases a handle. Best-effort and queued on the broker side.
type UnpinRequest struct {
	Handle Handle `json:"handle"`
}

// BatchMembersRequest fetches several dotted member paths in one round trip.
// A path may end in "|s" to request string conversion of the leaf.
type BatchMembersRequest struct {
	Handle Handle   `json:"handle"`
	Paths  []string `json:"paths"`
}

// BatchMemberResult is one resolved path. Error is set when the path could
// not be walked; the path is still reported.
type BatchMemberResult struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
	Error string `json:"error,omitempty"`
}

// BatchMembersResponse answers POST /batch/members.
type BatchMembersResponse struct {
	Results []BatchMemberResult `json:"results"`
}

// BatchCollectionRequest evaluates member paths against every element of a
// collection target. Non-primitive leaves are deliberately left unpinned.
type BatchCollectionRequest struct {
	Handle Handle   `json:"handle"`
	Paths  []string `json:"paths"`
}

// BatchCollectionElement holds the per-path results for one element.
type BatchCollectionElement struct {
	Index   int                 `json:"index"`
	Results []BatchMemberResult `json:"results"`
}

// BatchCollectionResponse answers POST /batch/collection.
type BatchCollectionResponse struct {
	Elements []BatchCollectionElement `json:"elements"`
}

// SubscribeRequest wires a host-side event to a controller callback.
// ProbeURL is polled by the liveness monitor; when empty it is derived from
// the callback URL.
type SubscribeRequest struct {
	Handle   Handle `json:"handle"`
	Event    string `json:"event"`
	Callback string `json:"callback"`
	ProbeURL string `json:"probe_url,omitempty"`
}

// SubscribeResponse returns the registration token.
type SubscribeResponse struct {
	Token string `json:"token"`
}

// UnsubscribeRequest removes an event registration.
type UnsubscribeRequest struct {
	Token string `json:"token"`
}

// EventDelivery is the payload POSTed to a subscriber callback on each
// firing. Sender and Arg follow the usual encoding: primitives inline,
// objects as pinned handles, nil as null.
type EventDelivery struct {
	Token  string `json:"token"`
	Event  string `json:"event"`
	Sender Value  `json:"sender"`
	Arg    Value  `json:"arg"`
}
