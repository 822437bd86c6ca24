package world

import (
	"encoding/json"
	"time"

	"windrift.gg/internal/protocol"
)

// priorityDivisor maps a recipient's distance from the source to how often
// deltas are relayed: 1 means every tick, 20 means every 20th.
func priorityDivisor(dist float64, t PriorityTiers) uint64 {
	switch {
	case dist < t.High:
		return 1
	case dist < t.Medium:
		return 2
	case dist < t.Low:
		return 5
	case dist < t.Minimal:
		return 10
	default:
		return 20
	}
}

// broadcastTick fans out every dirty entity's delta to the recipients within
// sync range, throttled per recipient by distance tier, then dispatches the
// accumulated per-recipient batches.
func (m *Manager) broadcastTick(now time.Time, tick uint64) (dirtyCount, recipientCount, sentCount int) {
	var dirty []*Entity
	for _, e := range m.entities {
		if e.Dirty {
			dirty = append(dirty, e)
		}
	}
	if len(dirty) == 0 {
		return 0, 0, 0
	}

	ts := now.UnixMilli()
	batches := make(map[*Entity][]protocol.DeltaState)
	for _, src := range dirty {
		delta := src.deltaState(ts)
		for _, nb := range m.grid.queryRadius(src.Pos, m.cfg.MaxSyncDistance) {
			r := nb.Entity
			if r == src || r.Session == nil {
				continue
			}
			if tick%priorityDivisor(nb.Dist, m.cfg.PriorityTiers) != 0 {
				continue
			}
			batches[r] = append(batches[r], delta)
		}
		src.Dirty = false
		src.LastBroadcast = now
	}

	sent := 0
	for r, deltas := range batches {
		sent += m.sendDeltaBatches(r, deltas, tick, ts)
	}
	m.updatesSent += uint64(sent)
	return len(dirty), len(batches), sent
}

// sendDeltaBatches chunks a recipient's batch to MaxBatchSize entries per
// message. A failed send makes the recipient unreachable for the remainder
// of the tick: the rest of its chunks are abandoned, with no retry.
func (m *Manager) sendDeltaBatches(r *Entity, deltas []protocol.DeltaState, tick uint64, ts int64) int {
	sent := 0
	for start := 0; start < len(deltas); start += m.cfg.MaxBatchSize {
		end := min(start+m.cfg.MaxBatchSize, len(deltas))
		b, err := json.Marshal(protocol.StatesBatchMsg{
			Type:            protocol.TypeStatesBatch,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			ServerTS:        ts,
			States:          deltas[start:end],
		})
		if err != nil {
			m.log.Printf("marshal states_batch for %q: %v", r.ID, err)
			return sent
		}
		if err := r.Session.Send(b); err != nil {
			return sent
		}
		sent += end - start
	}
	return sent
}

// sendInitialSync runs once, on an entity's first accepted update: the
// entity receives full snapshots of everyone currently nearby, and those
// same neighbors receive its joined notice.
func (m *Manager) sendInitialSync(e *Entity, now time.Time) {
	tick := m.tick.Load()
	ts := now.UnixMilli()
	nbrs := m.grid.queryRadius(e.Pos, m.cfg.MaxSyncDistance)

	others := make([]protocol.FullState, 0, len(nbrs))
	for _, nb := range nbrs {
		if nb.Entity != e {
			others = append(others, nb.Entity.fullState(ts))
		}
	}
	if e.Session != nil {
		b, err := json.Marshal(protocol.StatesInitialMsg{
			Type:            protocol.TypeStatesInitial,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			ServerTS:        ts,
			States:          others,
		})
		if err == nil {
			_ = e.Session.Send(b)
		}
	}

	jb, err := json.Marshal(protocol.EntityJoinedMsg{
		Type:            protocol.TypeEntityJoined,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		ServerTS:        ts,
		State:           e.fullState(ts),
	})
	if err != nil {
		return
	}
	for _, nb := range nbrs {
		r := nb.Entity
		if r == e || r.Session == nil {
			continue
		}
		_ = r.Session.Send(jb)
	}
}

// broadcastLeft notifies entities near e's last known position. The caller
// must invoke this before removing e from the indices.
func (m *Manager) broadcastLeft(e *Entity, now time.Time) {
	b, err := json.Marshal(protocol.EntityLeftMsg{
		Type:            protocol.TypeEntityLeft,
		ProtocolVersion: protocol.Version,
		Tick:            m.tick.Load(),
		ServerTS:        now.UnixMilli(),
		EntityID:        e.ID,
	})
	if err != nil {
		return
	}
	for _, nb := range m.grid.queryRadius(e.Pos, m.cfg.MaxSyncDistance) {
		r := nb.Entity
		if r == e || r.Session == nil {
			continue
		}
		_ = r.Session.Send(b)
	}
}
