package chathub

import (
	"hash/fnv"
	"sync"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"

	"go.uber.org/zap"
)

// DisconnectFunc is told about every connection removed from the registry,
// together with how many connections its identity still holds.
type DisconnectFunc func(identity, connectionID string, remaining int)

type shard struct {
	mu     sync.Mutex
	byUser map[string]map[string]Client
	byConn map[string]Client
}

// Registry tracks which identities are reachable and through which
// connections. Identities and connection ids are spread over shards; each
// shard is guarded by its own mutex.
type Registry struct {
	shards [config.RegistryShards]shard

	listenersMu sync.RWMutex
	listeners   []DisconnectFunc

	log *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{log: logging.OrNop(log)}
	for i := range r.shards {
		r.shards[i].byUser = make(map[string]map[string]Client)
		r.shards[i].byConn = make(map[string]Client)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.shards[h.Sum32()&(config.RegistryShards-1)]
}

// OnDisconnect adds a listener fired after a connection is removed.
func (r *Registry) OnDisconnect(fn DisconnectFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register adds c to its identity's connection set.
func (r *Registry) Register(c Client) error {
	identity, connID := c.GetUserID(), c.GetConnectionID()
	if identity == "" {
		return apperr.InvalidArg("registry: empty identity")
	}
	if connID == "" {
		return apperr.InvalidArg("registry: empty connection id")
	}

	cs := r.shardFor(connID)
	cs.mu.Lock()
	if _, exists := cs.byConn[connID]; exists {
		cs.mu.Unlock()
		return apperr.InvalidArg("registry: connection " + connID + " already registered")
	}
	cs.byConn[connID] = c
	cs.mu.Unlock()

	us := r.shardFor(identity)
	us.mu.Lock()
	conns, ok := us.byUser[identity]
	if !ok {
		conns = make(map[string]Client)
		us.byUser[identity] = conns
	}
	conns[connID] = c
	total := len(conns)
	us.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	r.log.Debug("connection registered",
		zap.String("identity", identity),
		zap.String("connection", connID),
		zap.Int("connections", total))
	return nil
}

// Unregister removes the connection and closes it. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	cs := r.shardFor(connID)
	cs.mu.Lock()
	c, ok := cs.byConn[connID]
	if ok {
		delete(cs.byConn, connID)
	}
	cs.mu.Unlock()
	if !ok {
		return
	}

	identity := c.GetUserID()
	us := r.shardFor(identity)
	us.mu.Lock()
	remaining := 0
	if conns, ok := us.byUser[identity]; ok {
		delete(conns, connID)
		remaining = len(conns)
		if remaining == 0 {
			delete(us.byUser, identity)
		}
	}
	us.mu.Unlock()

	c.Close()
	metrics.ConnectionsActive.Dec()
	r.log.Debug("connection unregistered",
		zap.String("identity", identity),
		zap.String("connection", connID),
		zap.Int("remaining", remaining))

	r.listenersMu.RLock()
	listeners := append([]DisconnectFunc(nil), r.listeners...)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(identity, connID, remaining)
	}
}

// Send fans env out to every live connection of identity and returns how
// many accepted it. Zero means the identity is offline on this node.
func (r *Registry) Send(identity string, env models.Envelope) int {
	s := r.shardFor(identity)
	delivered, dropped := 0, 0

	// The shard lock is held across the fan-out so that envelopes for one
	// identity reach all of its connections in the same order.
	s.mu.Lock()
	for _, c := range s.byUser[identity] {
		if c.Enqueue(env) {
			delivered++
		} else {
			dropped++
		}
	}
	s.mu.Unlock()

	if delivered > 0 {
		metrics.EnvelopesDelivered.WithLabelValues(env.Type).Add(float64(delivered))
	}
	if dropped > 0 {
		metrics.EnvelopesDropped.WithLabelValues("buffer_full").Add(float64(dropped))
		r.log.Warn("envelope dropped for slow connection",
			zap.String("identity", identity),
			zap.String("type", env.Type),
			zap.Int("dropped", dropped))
	}
	return delivered
}

func (r *Registry) IsOnline(identity string) bool {
	return r.Connections(identity) > 0
}

// Connections returns the number of live connections held by identity.
func (r *Registry) Connections(identity string) int {
	s := r.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser[identity])
}

// Count returns the number of live connections across all identities.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.byConn)
		s.mu.Unlock()
	}
	return n
}

// Evict unregisters every connection held by identity and returns how many
// were removed.
func (r *Registry) Evict(identity string) int {
	s := r.shardFor(identity)
	s.mu.Lock()
	ids := make([]string, 0, len(s.byUser[identity]))
	for id := range s.byUser[identity] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		r.Unregister(id)
	}
	return len(ids)
}

// Shutdown unregisters every connection.
func (r *Registry) Shutdown() {
	var ids []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id := range s.byConn {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	for _, id := range ids {
		r.Unregister(id)
	}
}
