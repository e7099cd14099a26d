// Package events is the single point through which all outbound realtime
// traffic flows. A broadcaster resolves room keys to member sessions and
// hands serialized frames to the transport; delivery is fire-and-forget.
package events

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"transcendence/coordinator/internal/protocol"
)

// Transport delivers a serialized frame to one session. Implementations must
// not block; a session that vanished between resolution and delivery simply
// receives nothing.
type Transport interface {
	Send(sessionID string, frame []byte)
}

// Resolver translates room keys into current member sessions.
type Resolver interface {
	Members(roomKey string) []string
	Sessions() []string
}

// Sink observes every room-targeted emission, typically to journal game
// rooms. Sink failures never affect delivery.
type Sink interface {
	Append(roomKey string, event protocol.Event, payload []byte)
}

// orderStripes bounds the number of per-room ordering locks. Events for one
// room always hash to the same stripe, so same-room emissions stay ordered
// while unrelated rooms rarely contend.
const orderStripes = 32

// Broadcaster fans typed events out to sessions, rooms, or room sets.
type Broadcaster struct {
	resolver  Resolver
	transport Transport
	sink      Sink
	log       *zap.Logger

	stripes [orderStripes]sync.Mutex
}

// Option configures optional broadcaster behaviour.
type Option func(*Broadcaster)

// WithSink attaches an emission observer.
func WithSink(sink Sink) Option {
	return func(b *Broadcaster) {
		if sink != nil {
			b.sink = sink
		}
	}
}

// NewBroadcaster wires the broadcaster to its member resolver and transport.
func NewBroadcaster(resolver Resolver, transport Transport, log *zap.Logger, opts ...Option) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broadcaster{resolver: resolver, transport: transport, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// ToSession delivers the event to a single session.
func (b *Broadcaster) ToSession(sessionID string, event protocol.Event, payload any) {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		b.log.Error("encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	b.transport.Send(sessionID, frame)
}

// ToRoom delivers the event to every current member of the room. The payload
// is serialized once for the whole fan-out.
func (b *Broadcaster) ToRoom(roomKey string, event protocol.Event, payload any) {
	b.ToRooms([]string{roomKey}, event, payload)
}

// ToRooms delivers the event to the union of the rooms' members. Sessions in
// several target rooms still receive the frame once per room, matching the
// underlying pub/sub semantics clients already handle.
func (b *Broadcaster) ToRooms(roomKeys []string, event protocol.Event, payload any) {
	if len(roomKeys) == 0 {
		return
	}
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		b.log.Error("encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	for _, roomKey := range roomKeys {
		b.deliverToRoom(roomKey, event, frame)
	}
}

// ToAll delivers the event to every connected session, optionally skipping
// one (the originator of a broadcast that should not echo back).
func (b *Broadcaster) ToAll(event protocol.Event, payload any, exceptSessionID string) {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		b.log.Error("encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	for _, sessionID := range b.resolver.Sessions() {
		if sessionID == exceptSessionID {
			continue
		}
		b.transport.Send(sessionID, frame)
	}
}

// deliverToRoom resolves membership and sends under the room's ordering
// stripe so members observe same-room events in emission order. The sink
// append stays inside the critical section so the journal records the same
// order the members saw.
func (b *Broadcaster) deliverToRoom(roomKey string, event protocol.Event, frame []byte) {
	stripe := &b.stripes[stripeFor(roomKey)]
	stripe.Lock()
	defer stripe.Unlock()
	members := b.resolver.Members(roomKey)
	for _, sessionID := range members {
		b.transport.Send(sessionID, frame)
	}
	if b.sink != nil && len(members) > 0 {
		b.sink.Append(roomKey, event, frame)
	}
}

func stripeFor(roomKey string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomKey))
	return h.Sum32() % orderStripes
}
