package oms

import (
	"sync"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/schema"
)

// Registry maintains local-order-id <-> exchange-order-id associations and
// the queue of cancels requested before the exchange id is known. All
// mutation goes through one mutex; the bind/queue pair is a check-then-act
// race otherwise.
type Registry struct {
	mu             sync.Mutex
	localToRemote  map[string]string
	remoteToLocal  map[string]string
	pendingCancels map[string]schema.CancelRequest
}

// NewRegistry returns an empty identifier registry.
func NewRegistry() *Registry {
	return &Registry{
		localToRemote:  make(map[string]string),
		remoteToLocal:  make(map[string]string),
		pendingCancels: make(map[string]schema.CancelRequest),
	}
}

// RegisterLocal creates a pending mapping with no exchange id. Idempotent
// per local id.
func (r *Registry) RegisterLocal(localID string) {
	if localID == "" {
		return
	}
	r.mu.Lock()
	if _, exists := r.localToRemote[localID]; !exists {
		r.localToRemote[localID] = ""
	}
	r.mu.Unlock()
}

// BindExchangeID completes the mapping. If a cancel was queued for the local
// id it is returned for immediate replay and removed from the pending set.
// Rebinding a local id to a different exchange id is an error.
func (r *Registry) BindExchangeID(localID, exchangeID string) (schema.CancelRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.localToRemote[localID]; ok && current != "" && current != exchangeID {
		return schema.CancelRequest{}, false, errs.New("oms/registry", errs.CodeDuplicateBinding,
			errs.WithMessage("local id "+localID+" already bound to "+current))
	}
	r.localToRemote[localID] = exchangeID
	r.remoteToLocal[exchangeID] = localID

	replay, ok := r.pendingCancels[localID]
	if ok {
		delete(r.pendingCancels, localID)
	}
	return replay, ok, nil
}

// ResolveExchangeID returns the exchange id bound to the local id, if any.
func (r *Registry) ResolveExchangeID(localID string) (string, bool) {
	r.mu.Lock()
	remote, ok := r.localToRemote[localID]
	r.mu.Unlock()
	return remote, ok && remote != ""
}

// ResolveLocalID returns the local id owning the exchange id, if any.
func (r *Registry) ResolveLocalID(exchangeID string) (string, bool) {
	r.mu.Lock()
	local, ok := r.remoteToLocal[exchangeID]
	r.mu.Unlock()
	return local, ok
}

// QueueCancel stores the cancel when no exchange id exists yet. Returns the
// bound exchange id and false when the cancel can be sent immediately.
func (r *Registry) QueueCancel(localID string, req schema.CancelRequest) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if remote, ok := r.localToRemote[localID]; ok && remote != "" {
		return remote, false
	}
	r.pendingCancels[localID] = req
	return "", true
}

// Release removes both directions of the mapping and any queued cancel.
// Called only once the owning order reaches a terminal state.
func (r *Registry) Release(localID, exchangeID string) {
	r.mu.Lock()
	if localID == "" && exchangeID != "" {
		localID = r.remoteToLocal[exchangeID]
	}
	if exchangeID == "" && localID != "" {
		exchangeID = r.localToRemote[localID]
	}
	delete(r.localToRemote, localID)
	delete(r.remoteToLocal, exchangeID)
	delete(r.pendingCancels, localID)
	r.mu.Unlock()
}
