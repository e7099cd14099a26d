// Package rooms maintains the bidirectional mapping between sessions and the
// broadcast rooms they joined. Rooms are created implicitly on first join and
// garbage-collected once empty. Membership references sessions by identifier
// only; the directory never holds connection objects.
package rooms

import (
	"sync"
)

type room struct {
	mu      sync.Mutex
	members map[string]struct{}
	// dead marks a room removed from the directory so joiners racing the
	// garbage collection retry against a fresh entry.
	dead bool
}

type session struct {
	mu             sync.Mutex
	joined         map[string]struct{}
	currentChannel string
}

// Directory tracks room membership for every connected session. The outer
// lock only guards the two lookup maps; each room and session entry carries
// its own mutex so unrelated rooms never contend.
type Directory struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[string]*session
}

// NewDirectory constructs an empty room directory.
func NewDirectory() *Directory {
	return &Directory{
		rooms:    make(map[string]*room),
		sessions: make(map[string]*session),
	}
}

// Register makes the session known to the directory. Joining also registers,
// so this only matters for sessions that never join a room before leaving.
func (d *Directory) Register(sessionID string) {
	d.ensureSession(sessionID)
}

// Join adds the session to the room, creating the room on first join. Joining
// a room the session is already in is a no-op.
func (d *Directory) Join(sessionID, roomKey string) {
	if sessionID == "" || roomKey == "" {
		return
	}
	entry := d.ensureSession(sessionID)
	entry.mu.Lock()
	entry.joined[roomKey] = struct{}{}
	entry.mu.Unlock()

	for {
		rm := d.ensureRoom(roomKey)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[sessionID] = struct{}{}
		rm.mu.Unlock()
		return
	}
}

// Leave removes the session from the room. Leaving a room the session is not
// in, or an unknown room, is a no-op. If the room was the session's current
// channel room that pointer is cleared.
func (d *Directory) Leave(sessionID, roomKey string) {
	d.mu.RLock()
	entry := d.sessions[sessionID]
	d.mu.RUnlock()

	if entry != nil {
		entry.mu.Lock()
		delete(entry.joined, roomKey)
		if entry.currentChannel == roomKey {
			entry.currentChannel = ""
		}
		entry.mu.Unlock()
	}
	d.removeMember(sessionID, roomKey)
}

// SwitchChannelRoom leaves the session's previous channel room (if any) and
// joins the new one as one logical step. The previous room key is returned so
// callers can log or notify.
func (d *Directory) SwitchChannelRoom(sessionID, roomKey string) (previous string) {
	entry := d.ensureSession(sessionID)

	entry.mu.Lock()
	previous = entry.currentChannel
	entry.currentChannel = roomKey
	delete(entry.joined, previous)
	entry.joined[roomKey] = struct{}{}
	entry.mu.Unlock()

	if previous != "" && previous != roomKey {
		d.removeMember(sessionID, previous)
	}
	for {
		rm := d.ensureRoom(roomKey)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[sessionID] = struct{}{}
		rm.mu.Unlock()
		return previous
	}
}

// LeaveChannelRoom leaves the session's current channel room, if any, and
// clears the pointer. The left room key is returned.
func (d *Directory) LeaveChannelRoom(sessionID string) (left string) {
	d.mu.RLock()
	entry := d.sessions[sessionID]
	d.mu.RUnlock()
	if entry == nil {
		return ""
	}

	entry.mu.Lock()
	left = entry.currentChannel
	entry.currentChannel = ""
	delete(entry.joined, left)
	entry.mu.Unlock()

	if left != "" {
		d.removeMember(sessionID, left)
	}
	return left
}

// CurrentChannelRoom reports the session's active channel room.
func (d *Directory) CurrentChannelRoom(sessionID string) (string, bool) {
	d.mu.RLock()
	entry := d.sessions[sessionID]
	d.mu.RUnlock()
	if entry == nil {
		return "", false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.currentChannel == "" {
		return "", false
	}
	return entry.currentChannel, true
}

// Members returns a snapshot of the session identifiers currently in the
// room. Unknown rooms yield an empty snapshot.
func (d *Directory) Members(roomKey string) []string {
	d.mu.RLock()
	rm := d.rooms[roomKey]
	d.mu.RUnlock()
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := make([]string, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	return members
}

// RoomsOf returns a snapshot of the room keys the session has joined.
func (d *Directory) RoomsOf(sessionID string) []string {
	d.mu.RLock()
	entry := d.sessions[sessionID]
	d.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	keys := make([]string, 0, len(entry.joined))
	for key := range entry.joined {
		keys = append(keys, key)
	}
	return keys
}

// Sessions returns a snapshot of every session the directory knows about.
func (d *Directory) Sessions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Forget removes the session from every room it joined and drops the session
// entry. The rooms left are returned. Forget is idempotent.
func (d *Directory) Forget(sessionID string) (left []string) {
	d.mu.Lock()
	entry := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	left = make([]string, 0, len(entry.joined))
	for key := range entry.joined {
		left = append(left, key)
	}
	entry.joined = make(map[string]struct{})
	entry.currentChannel = ""
	entry.mu.Unlock()

	for _, key := range left {
		d.removeMember(sessionID, key)
	}
	return left
}

func (d *Directory) ensureSession(sessionID string) *session {
	d.mu.RLock()
	entry := d.sessions[sessionID]
	d.mu.RUnlock()
	if entry != nil {
		return entry
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry = d.sessions[sessionID]; entry == nil {
		entry = &session{joined: make(map[string]struct{})}
		d.sessions[sessionID] = entry
	}
	return entry
}

func (d *Directory) ensureRoom(roomKey string) *room {
	d.mu.RLock()
	rm := d.rooms[roomKey]
	d.mu.RUnlock()
	if rm != nil {
		return rm
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rm = d.rooms[roomKey]; rm == nil {
		rm = &room{members: make(map[string]struct{})}
		d.rooms[roomKey] = rm
	}
	return rm
}

// removeMember drops the session from the room's member set and collects the
// room once it is empty.
func (d *Directory) removeMember(sessionID, roomKey string) {
	d.mu.RLock()
	rm := d.rooms[roomKey]
	d.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	delete(rm.members, sessionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if !empty {
		return
	}

	// Re-check emptiness under both locks so a racing join wins over GC.
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.rooms[roomKey]
	if !ok || current != rm {
		return
	}
	rm.mu.Lock()
	if len(rm.members) == 0 {
		rm.dead = true
		delete(d.rooms, roomKey)
	}
	rm.mu.Unlock()
}
