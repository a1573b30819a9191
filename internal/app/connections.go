package app

import "sync"

// Binding ties a live connection to a room member.
type Binding struct {
	ConnID   string
	Code     string
	Identity string
	Host     bool
}

type memberKey struct {
	code     string
	identity string
}

// ConnectionRegistry maps opaque connection ids to (room, identity) and
// back. A member has at most one bound connection.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	byConn   map[string]Binding
	byMember map[memberKey]string
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byConn:   make(map[string]Binding),
		byMember: make(map[memberKey]string),
	}
}

// Bind records b. If the member was bound to another connection, that
// mapping is dropped and its id returned.
func (r *ConnectionRegistry) Bind(b Binding) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{code: b.Code, identity: b.Identity}
	if old, ok := r.byMember[key]; ok && old != b.ConnID {
		delete(r.byConn, old)
		previous = old
	}
	if existing, ok := r.byConn[b.ConnID]; ok {
		delete(r.byMember, memberKey{code: existing.Code, identity: existing.Identity})
	}
	r.byConn[b.ConnID] = b
	r.byMember[key] = b.ConnID
	return previous
}

// Resolve returns the binding of a connection.
func (r *ConnectionRegistry) Resolve(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	return b, ok
}

// Lookup returns the connection currently bound to a member.
func (r *ConnectionRegistry) Lookup(code, identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byMember[memberKey{code: code, identity: identity}]
	return connID, ok
}

// Unbind removes a connection. It reports false for unknown or already
// replaced connections.
func (r *ConnectionRegistry) Unbind(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, connID)
	key := memberKey{code: b.Code, identity: b.Identity}
	if r.byMember[key] == connID {
		delete(r.byMember, key)
	}
	return b, true
}

// DropRoom removes every binding of a room.
func (r *ConnectionRegistry) DropRoom(code string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []Binding
	for connID, b := range r.byConn {
		if b.Code != code {
			continue
		}
		dropped = append(dropped, b)
		delete(r.byConn, connID)
		delete(r.byMember, memberKey{code: b.Code, identity: b.Identity})
	}
	return dropped
}

// Len returns the number of bound connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
