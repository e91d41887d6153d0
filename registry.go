package scenesync

import (
	"sort"
	"sync"

	"go.viam.com/rdk/logging"
)

// EntryState is the registry's view of one object.
type EntryState int

const (
	// StateUnknown is never stored; absent entries read as unknown.
	StateUnknown EntryState = iota
	StateInWorld
	StateAttached
)

func (s EntryState) String() string {
	switch s {
	case StateInWorld:
		return "in_world"
	case StateAttached:
		return "attached"
	default:
		return "unknown"
	}
}

// RegistryEntry is the membership state of one object ID.
type RegistryEntry struct {
	State EntryState
	// Link is set only while State is StateAttached.
	Link string
}

type transitionKind int

const (
	transitionPicked transitionKind = iota
	transitionPlaced
)

// pendingTransition is a local pick or release not yet confirmed remotely.
type pendingTransition struct {
	seq    uint64
	kind   transitionKind
	link   string
	misses int
	// lateAttach marks a placement whose pick echo arrived after the release;
	// the next Detach is the release echo and returns the object to the world.
	lateAttach bool
}

// ReconcileReport lists what a full snapshot changed about local transitions.
type ReconcileReport struct {
	// Confirmed transitions the remote side now agrees with.
	Confirmed []string
	// Dropped placements the remote side never showed; they read as unknown
	// again so the next synchronization pass re-adds them.
	Dropped []string
	// Reasserted picks whose attachment a stale detach had undone.
	Reasserted []string
	// Diverged picks the remote world still lists as free obstacles.
	Diverged []string
}

// Empty reports whether nothing needs attention.
func (r ReconcileReport) Empty() bool {
	return len(r.Confirmed) == 0 && len(r.Dropped) == 0 && len(r.Reasserted) == 0 && len(r.Diverged) == 0
}

// ObjectRegistry is the local view of which object IDs exist in the remote
// world and which are attached to the manipulator.
type ObjectRegistry struct {
	entries map[string]RegistryEntry
	pending map[string]*pendingTransition
	seq     uint64

	// reconcileAfter is how many full snapshots may miss a placed object
	// before the placement is considered lost.
	reconcileAfter int

	logger logging.Logger
	mu     sync.RWMutex
}

// NewObjectRegistry returns an empty registry.
func NewObjectRegistry(reconcileAfter int, logger logging.Logger) *ObjectRegistry {
	if reconcileAfter < 1 {
		reconcileAfter = 1
	}
	return &ObjectRegistry{
		entries:        make(map[string]RegistryEntry),
		pending:        make(map[string]*pendingTransition),
		reconcileAfter: reconcileAfter,
		logger:         logger,
	}
}

// ApplySnapshot records remote world membership. With replace set the current
// InWorld membership is cleared first. Attached entries are never touched,
// and an attached ID listed in the snapshot stays attached. Full snapshots
// also reconcile pending local transitions.
func (r *ObjectRegistry) ApplySnapshot(ids []string, replace bool) ReconcileReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if replace {
		for id, e := range r.entries {
			if e.State != StateInWorld {
				continue
			}
			// unconfirmed placements survive until reconcile gives up on them
			if p, ok := r.pending[id]; ok && p.kind == transitionPlaced {
				continue
			}
			delete(r.entries, id)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			r.logger.Debug("skipping empty id in world snapshot")
			continue
		}
		seen[id] = struct{}{}
		if e, ok := r.entries[id]; ok && e.State == StateAttached && !r.placedLocked(id) {
			continue
		}
		r.entries[id] = RegistryEntry{State: StateInWorld}
	}

	report := r.confirmPlacements(seen)
	if replace {
		r.reconcile(seen, &report)
	}
	r.logger.Debugf("world snapshot applied (replace=%v): %d ids, %d tracked", replace, len(ids), len(r.entries))
	return report
}

// confirmPlacements clears placements any snapshot shows.
func (r *ObjectRegistry) confirmPlacements(seen map[string]struct{}) ReconcileReport {
	var report ReconcileReport
	for id, p := range r.pending {
		if p.kind != transitionPlaced {
			continue
		}
		if _, ok := seen[id]; ok {
			delete(r.pending, id)
			report.Confirmed = append(report.Confirmed, id)
		}
	}
	return report
}

// reconcile compares pending local transitions against a full snapshot.
func (r *ObjectRegistry) reconcile(seen map[string]struct{}, report *ReconcileReport) {
	for id, p := range r.pending {
		_, listed := seen[id]
		switch p.kind {
		case transitionPlaced:
			// a late pick echo left the released object attached
			if e := r.entries[id]; e.State == StateAttached {
				r.entries[id] = RegistryEntry{State: StateInWorld}
				p.lateAttach = false
			}
			p.misses++
			if p.misses >= r.reconcileAfter {
				delete(r.pending, id)
				if e, ok := r.entries[id]; ok && e.State == StateInWorld {
					delete(r.entries, id)
				}
				report.Dropped = append(report.Dropped, id)
			}
		case transitionPicked:
			if e := r.entries[id]; e.State != StateAttached {
				r.entries[id] = RegistryEntry{State: StateAttached, Link: p.link}
				report.Reasserted = append(report.Reasserted, id)
			}
			if listed {
				p.misses++
				if p.misses >= r.reconcileAfter {
					p.misses = 0
					report.Diverged = append(report.Diverged, id)
				}
			}
		}
	}
	sort.Strings(report.Confirmed)
	sort.Strings(report.Dropped)
	sort.Strings(report.Reasserted)
	sort.Strings(report.Diverged)
}

// ApplyAttachEvent records a remote attach or detach. Attach always wins over
// the prior state; Detach leaves the entry absent, except that the echo of a
// local release keeps the unconfirmed placement in the world.
func (r *ObjectRegistry) ApplyAttachEvent(id, link string, op AttachOp) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch op {
	case Attach:
		r.entries[id] = RegistryEntry{State: StateAttached, Link: link}
		if p, ok := r.pending[id]; ok {
			switch {
			case p.kind == transitionPicked && p.link == link:
				delete(r.pending, id)
			case p.kind == transitionPlaced:
				p.lateAttach = true
			}
		}
	case Detach:
		if p, ok := r.pending[id]; ok && p.kind == transitionPlaced {
			if p.lateAttach {
				p.lateAttach = false
				r.entries[id] = RegistryEntry{State: StateInWorld}
			}
			return
		}
		delete(r.entries, id)
	}
}

// Exists reports whether id is a free obstacle in the remote world.
func (r *ObjectRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].State == StateInWorld
}

// IsAttached reports whether id is carried by a link.
func (r *ObjectRegistry) IsAttached(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].State == StateAttached
}

// Entry returns the stored state of id.
func (r *ObjectRegistry) Entry(id string) RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Remove forces id to absent and forgets any unconfirmed transition on it.
// Used when a local actor deletes an object.
func (r *ObjectRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	delete(r.pending, id)
}

// MarkPicked optimistically attaches id to link ahead of the remote
// confirmation and returns the transition's sequence number.
func (r *ObjectRegistry) MarkPicked(id, link string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = RegistryEntry{State: StateAttached, Link: link}
	return r.track(id, transitionPicked, link)
}

// MarkPlaced optimistically returns id to the world after a release.
func (r *ObjectRegistry) MarkPlaced(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = RegistryEntry{State: StateInWorld}
	return r.track(id, transitionPlaced, "")
}

// placedLocked reports an unconfirmed placement on id. mu must be held.
func (r *ObjectRegistry) placedLocked(id string) bool {
	p, ok := r.pending[id]
	return ok && p.kind == transitionPlaced
}

// track must be called with mu held. A newer transition replaces an older one.
func (r *ObjectRegistry) track(id string, kind transitionKind, link string) uint64 {
	r.seq++
	r.pending[id] = &pendingTransition{seq: r.seq, kind: kind, link: link}
	return r.seq
}

// PendingSeq returns the sequence of the unconfirmed transition on id.
func (r *ObjectRegistry) PendingSeq(id string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[id]
	if !ok {
		return 0, false
	}
	return p.seq, true
}

// RegistryStatus summarizes the registry for diagnostics.
type RegistryStatus struct {
	InWorld  int
	Attached int
	Pending  int
	Seq      uint64
}

// Status returns current counts.
func (r *ObjectRegistry) Status() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStatus{Pending: len(r.pending), Seq: r.seq}
	for _, e := range r.entries {
		switch e.State {
		case StateInWorld:
			st.InWorld++
		case StateAttached:
			st.Attached++
		}
	}
	return st
}

// Snapshot copies the stored entries.
func (r *ObjectRegistry) Snapshot() map[string]RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]RegistryEntry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}
