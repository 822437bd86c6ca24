package world

import (
	"context"
	"time"

	"windrift.gg/internal/protocol"
)

// Record is the storage shape of one entity. The store must treat upserts
// as idempotent per id (last-write-wins).
type Record struct {
	ID        string
	Name      string
	Region    string
	Zone      string
	Pos       protocol.Vec3
	Vel       protocol.Vec3
	Rot       protocol.Quat
	Online    bool
	SessionID string
	UpdatedAt int64 // unix ms
}

// Upserter is the durable-store collaborator. A failure fails the whole
// batch; there is no partial-success reporting.
type Upserter interface {
	BatchUpsert(ctx context.Context, records []Record) error
}

type flushResult struct {
	ids     []string
	offline []Record
	err     error
}

// maybePersist triggers a background flush when the persist interval has
// elapsed. A flush already in flight makes this a no-op: the dirty state is
// simply picked up on a later interval.
func (m *Manager) maybePersist(now time.Time) {
	if m.store == nil {
		return
	}
	if now.Sub(m.lastPersist) < m.cfg.DBPersistEvery {
		return
	}
	if m.flushInFlight {
		return
	}
	recs, ids, offline := m.collectDirty(now)
	if len(recs) == 0 {
		m.lastPersist = now
		return
	}
	m.flushInFlight = true
	go func() {
		err := m.store.BatchUpsert(context.Background(), recs)
		m.flushDone <- flushResult{ids: ids, offline: offline, err: err}
	}()
}

// collectDirty atomically snapshots every persist-dirty entity, clears the
// flags, and drains the queued offline (departure) records.
func (m *Manager) collectDirty(now time.Time) (recs []Record, ids []string, offline []Record) {
	ts := now.UnixMilli()
	for id, e := range m.entities {
		if !e.DBDirty {
			continue
		}
		e.DBDirty = false
		recs = append(recs, e.record(true, ts))
		ids = append(ids, id)
	}
	offline = m.pendingOffline
	m.pendingOffline = nil
	recs = append(recs, offline...)
	return recs, ids, offline
}

func (m *Manager) finishFlush(res flushResult, now time.Time) {
	m.flushInFlight = false
	if res.err != nil {
		m.log.Printf("persist batch failed (%d entities, %d offline): %v", len(res.ids), len(res.offline), res.err)
		m.remarkDirty(res.ids, res.offline)
		return
	}
	m.lastPersist = now
	m.dbPersists++
}

// remarkDirty restores the dirty flags of a failed batch so the next
// interval retries it. Only entities still present are re-marked; ids
// removed in the interim must not be resurrected.
func (m *Manager) remarkDirty(ids []string, offline []Record) {
	for _, id := range ids {
		if e := m.entities[id]; e != nil {
			e.DBDirty = true
		}
	}
	m.pendingOffline = append(offline, m.pendingOffline...)
}

// flushSync performs one synchronous flush on the loop goroutine. Used only
// during shutdown, after any in-flight flush has drained.
func (m *Manager) flushSync(ctx context.Context, now time.Time) error {
	if m.store == nil {
		return nil
	}
	recs, ids, offline := m.collectDirty(now)
	if len(recs) == 0 {
		return nil
	}
	if err := m.store.BatchUpsert(ctx, recs); err != nil {
		m.remarkDirty(ids, offline)
		return err
	}
	m.lastPersist = now
	m.dbPersists++
	return nil
}
