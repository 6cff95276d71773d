package hub

import (
	"time"

	"github.com/eldtechnologies/hush/internal/protocol"
)

// PresenceRecord tracks identity, liveness, and typing state for one
// connection. Records are owned by the Registry; the pending timer handles
// live here so a newer event can cancel a stale one.
type PresenceRecord struct {
	ConnID     string
	Username   string
	LastActive time.Time
	Online     bool
	Typing     bool
	TypingTo   string

	typingTimer *time.Timer
	removeTimer *time.Timer
}

func (r *PresenceRecord) stopTimers() {
	if r.typingTimer != nil {
		r.typingTimer.Stop()
		r.typingTimer = nil
	}
	if r.removeTimer != nil {
		r.removeTimer.Stop()
		r.removeTimer = nil
	}
}

// Registry maps connection ids to presence records. It preserves insertion
// order for public snapshots and keeps a username index so recipient lookup
// does not scan every record. Usernames are not unique: when several live
// connections claim the same name, the earliest registration wins lookups.
// Not safe for concurrent use; the owning Hub serializes access.
type Registry struct {
	records map[string]*PresenceRecord
	order   []string            // conn ids, insertion order
	byName  map[string][]string // username -> conn ids, registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*PresenceRecord),
		byName:  make(map[string][]string),
	}
}

// Register inserts or replaces the record for a connection id, online and
// freshly active. Replacing cancels any timers armed for the old record and
// keeps the connection's position in the public snapshot.
func (g *Registry) Register(connID, username string, now time.Time) *PresenceRecord {
	if prev, ok := g.records[connID]; ok {
		prev.stopTimers()
		g.dropName(prev.Username, connID)
	} else {
		g.order = append(g.order, connID)
	}

	rec := &PresenceRecord{
		ConnID:     connID,
		Username:   username,
		LastActive: now,
		Online:     true,
	}
	g.records[connID] = rec
	g.byName[username] = append(g.byName[username], connID)
	return rec
}

// Get returns the record for a connection id, or nil.
func (g *Registry) Get(connID string) *PresenceRecord {
	return g.records[connID]
}

// Touch updates LastActive if the record exists. Unknown connections are a
// no-op, as everywhere in the registry.
func (g *Registry) Touch(connID string, now time.Time) bool {
	rec, ok := g.records[connID]
	if !ok {
		return false
	}
	rec.LastActive = now
	return true
}

// SetOnline mutates the online flag if the record exists.
func (g *Registry) SetOnline(connID string, online bool) bool {
	rec, ok := g.records[connID]
	if !ok {
		return false
	}
	rec.Online = online
	return true
}

// SetTyping mutates the typing state if the record exists.
func (g *Registry) SetTyping(connID string, typing bool, target string) bool {
	rec, ok := g.records[connID]
	if !ok {
		return false
	}
	rec.Typing = typing
	rec.TypingTo = target
	return true
}

// FindByUsername resolves a username to its presence record, or nil. With
// colliding usernames the earliest still-registered claimant is returned;
// the record may be offline or have no live connection, callers decide.
func (g *Registry) FindByUsername(username string) *PresenceRecord {
	ids := g.byName[username]
	if len(ids) == 0 {
		return nil
	}
	return g.records[ids[0]]
}

// Snapshot returns the public view of every record, online or not, in
// insertion order of the currently registered connections.
func (g *Registry) Snapshot() []protocol.PresenceEntry {
	users := make([]protocol.PresenceEntry, 0, len(g.order))
	for _, id := range g.order {
		rec := g.records[id]
		users = append(users, protocol.PresenceEntry{
			Username:   rec.Username,
			Online:     rec.Online,
			LastActive: rec.LastActive.UnixMilli(),
		})
	}
	return users
}

// Remove deletes a record entirely, cancelling its timers. Returns the
// removed record, or nil if the connection id was unknown.
func (g *Registry) Remove(connID string) *PresenceRecord {
	rec, ok := g.records[connID]
	if !ok {
		return nil
	}
	rec.stopTimers()
	delete(g.records, connID)
	g.dropName(rec.Username, connID)
	for i, id := range g.order {
		if id == connID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return rec
}

// DemoteIdle marks every online record idle since before the cutoff as
// offline, without touching LastActive. Returns the number demoted.
func (g *Registry) DemoteIdle(cutoff time.Time) int {
	demoted := 0
	for _, id := range g.order {
		rec := g.records[id]
		if rec.Online && rec.LastActive.Before(cutoff) {
			rec.Online = false
			demoted++
		}
	}
	return demoted
}

// Len returns the number of registered records.
func (g *Registry) Len() int {
	return len(g.records)
}

func (g *Registry) dropName(username, connID string) {
	ids := g.byName[username]
	for i, id := range ids {
		if id == connID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.byName, username)
	} else {
		g.byName[username] = ids
	}
}
