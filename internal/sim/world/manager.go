package world

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"windrift.gg/internal/protocol"
)

// ErrInvalidID is returned by AddEntity for an empty or oversized id.
var ErrInvalidID = errors.New("invalid entity id")

const maxEntityIDLen = 64

type Config struct {
	TickRateHz     int
	DBPersistEvery time.Duration
	MaxBatchSize   int

	PositionThreshold float64
	RotationThreshold float64

	MaxSyncDistance float64
	CellSize        float64

	PriorityTiers PriorityTiers
}

// PriorityTiers are distance bands in world units; see priorityDivisor.
type PriorityTiers struct {
	High    float64
	Medium  float64
	Low     float64
	Minimal float64
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.DBPersistEvery <= 0 {
		c.DBPersistEvery = 5 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.PositionThreshold <= 0 {
		c.PositionThreshold = 0.01
	}
	if c.RotationThreshold <= 0 {
		c.RotationThreshold = 0.01
	}
	if c.MaxSyncDistance <= 0 {
		c.MaxSyncDistance = 2000
	}
	if c.CellSize <= 0 {
		c.CellSize = 256
	}
	if c.PriorityTiers == (PriorityTiers{}) {
		c.PriorityTiers = PriorityTiers{High: 50, Medium: 150, Low: 500, Minimal: 1000}
	}
}

// TickLogEntry is one structured telemetry line per executed tick.
type TickLogEntry struct {
	Tick       uint64  `json:"tick"`
	Dirty      int     `json:"dirty,omitempty"`
	Recipients int     `json:"recipients,omitempty"`
	Sent       int     `json:"sent,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type addReq struct {
	id   string
	name string
	sess Session
	resp chan error
}

type updateReq struct {
	id      string
	payload protocol.UpdatePayload
	resp    chan bool
}

type removeReq struct {
	id   string
	sess Session // non-nil: remove only if still owned by this session
	done chan struct{}
}

type statsReq struct {
	resp chan Stats
}

type regionReq struct {
	label string
	resp  chan []protocol.FullState
}

type shutdownReq struct {
	ctx  context.Context
	done chan error
}

// Manager owns the authoritative world state for one shard: the entity
// records, the spatial grid, and the region index. It is a single-writer
// actor: all state is mutated only on the Run loop goroutine, fed by
// request channels; the in-tick and flush-in-flight booleans are
// load-shedding signals layered on that serialization, not the correctness
// mechanism.
type Manager struct {
	cfg   Config
	log   *log.Logger
	store Upserter

	entities map[string]*Entity
	grid     *spatialGrid
	regions  *regionIndex

	tick atomic.Uint64

	add        chan addReq
	update     chan updateReq
	removeCh   chan removeReq
	statsCh    chan statsReq
	regionCh   chan regionReq
	shutdownCh chan shutdownReq
	stop       chan struct{}
	stopOnce   sync.Once

	flushDone      chan flushResult
	flushInFlight  bool
	pendingOffline []Record
	lastPersist    time.Time

	inTick bool
	clock  tickClock

	ticksProcessed  uint64
	updatesSent     uint64
	dbPersists      uint64
	tickOverruns    uint64
	maxTickDuration time.Duration

	// Optional telemetry sink (may be nil). Set before Run.
	tickLogger TickLogger
}

// New creates a manager. store may be nil (no persistence); logger may be
// nil (discard).
func New(cfg Config, store Upserter, logger *log.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		cfg:        cfg,
		log:        logger,
		store:      store,
		entities:   make(map[string]*Entity),
		grid:       newSpatialGrid(cfg.CellSize),
		regions:    newRegionIndex(),
		add:        make(chan addReq, 64),
		update:     make(chan updateReq, 1024),
		removeCh:   make(chan removeReq, 64),
		statsCh:    make(chan statsReq),
		regionCh:   make(chan regionReq),
		shutdownCh: make(chan shutdownReq),
		stop:       make(chan struct{}),
		flushDone:  make(chan flushResult, 1),
		clock:      tickClock{interval: time.Second / time.Duration(max(cfg.TickRateHz, 1))},
	}
}

func (m *Manager) SetTickLogger(l TickLogger) { m.tickLogger = l }

func (m *Manager) CurrentTick() uint64 { return m.tick.Load() }

// Run drives the tick loop until the context is canceled, Stop is called,
// or Shutdown completes. All public operations require Run to be active.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.clock.interval
	m.lastPersist = time.Now()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case req := <-m.add:
			req.resp <- m.handleAdd(req.id, req.sess, req.name)
		case req := <-m.update:
			req.resp <- m.handleUpdate(req.id, req.payload, time.Now())
		case req := <-m.removeCh:
			m.handleRemove(req.id, req.sess, time.Now())
			if req.done != nil {
				close(req.done)
			}
		case req := <-m.statsCh:
			req.resp <- m.snapshotStats()
		case req := <-m.regionCh:
			req.resp <- m.entitiesInRegion(req.label, time.Now())
		case res := <-m.flushDone:
			m.finishFlush(res, time.Now())
		case <-timer.C:
			m.onTimer(timer)
		case req := <-m.shutdownCh:
			req.done <- m.handleShutdown(req.ctx, timer)
			return nil
		}
	}
}

// Stop prevents all future scheduled work immediately. Idempotent. Unlike
// Shutdown it does not drain outstanding persistence work.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) onTimer(timer *time.Timer) {
	start := time.Now()
	elapsed := m.clock.observe(start)
	drift := elapsed - m.clock.interval

	if m.inTick {
		// Previous invocation still marked in progress: shed this tick.
		m.tickOverruns++
		timer.Reset(nextTickDelay(m.clock.interval, 0, drift))
		return
	}
	m.inTick = true
	entry := m.runTick(start)
	m.inTick = false

	dur := time.Since(start)
	if dur > m.maxTickDuration {
		m.maxTickDuration = dur
	}
	if m.tickLogger != nil {
		entry.DurationMS = float64(dur.Microseconds()) / 1000.0
		_ = m.tickLogger.WriteTick(entry)
	}
	timer.Reset(nextTickDelay(m.clock.interval, dur, drift))
}

func (m *Manager) runTick(now time.Time) TickLogEntry {
	tick := m.tick.Load()
	dirty, recipients, sent := m.broadcastTick(now, tick)
	m.maybePersist(now)
	m.ticksProcessed++
	m.tick.Add(1)
	return TickLogEntry{Tick: tick, Dirty: dirty, Recipients: recipients, Sent: sent}
}

func (m *Manager) handleAdd(id string, sess Session, name string) error {
	if id == "" || len(id) > maxEntityIDLen {
		m.log.Printf("add rejected: %s %q", protocol.ErrInvalidID, id)
		return ErrInvalidID
	}
	if e := m.entities[id]; e != nil {
		// Reconnect: refresh the session handle, keep all state.
		e.Session = sess
		if name != "" {
			e.Name = name
		}
		return nil
	}
	e := newEntity(id, name, sess)
	m.entities[id] = e
	m.grid.insert(e, e.Pos)
	return nil
}

func (m *Manager) handleUpdate(id string, p protocol.UpdatePayload, now time.Time) bool {
	e := m.entities[id]
	if e == nil {
		m.log.Printf("update rejected: %s %q", protocol.ErrUnknownEntity, id)
		return false
	}

	newPos, _ := p.ResolvePosition(e.Pos)
	newVel, _ := p.ResolveVelocity(e.Vel)
	newRot, _ := p.ResolveRotation(e.Rot)
	if !finiteVec(newPos) || !finiteVec(newVel) || !finiteQuat(newRot) {
		// Reject in its entirety: no partial mutation, sequence unchanged.
		m.log.Printf("update rejected: %s non-finite field for %q", protocol.ErrBadRequest, id)
		return false
	}

	e.PrevPos, e.PrevRot = e.Pos, e.Rot
	if newPos != e.Pos {
		m.grid.move(e, e.Pos, newPos)
	}
	e.Pos, e.Vel, e.Rot = newPos, newVel, newRot

	if p.Region != nil && *p.Region != e.Region {
		m.regions.remove(e.Region, id)
		m.regions.add(*p.Region, id)
		e.Region = *p.Region
	}
	if p.Zone != nil && *p.Zone != e.Zone {
		m.regions.remove(e.Zone, id)
		m.regions.add(*p.Zone, id)
		e.Zone = *p.Zone
	}

	e.Seq++ // wraps mod 2^32
	e.LastUpdate = now

	posSig := distSq(e.PrevPos, e.Pos) > m.cfg.PositionThreshold*m.cfg.PositionThreshold
	// Small-angle approximation: 1-|dot(q1,q2)| ~= theta^2/8 for rotation angle theta.
	rotSig := 1-math.Abs(quatDot(e.PrevRot, e.Rot)) > m.cfg.RotationThreshold*m.cfg.RotationThreshold/8
	if posSig || rotSig {
		e.Dirty = true
		e.DBDirty = true
	}

	if e.NeedsInitialSync {
		e.NeedsInitialSync = false
		m.sendInitialSync(e, now)
	}
	return true
}

func (m *Manager) handleRemove(id string, sess Session, now time.Time) {
	e := m.entities[id]
	if e == nil {
		return
	}
	if sess != nil && e.Session != sess {
		// The entity reconnected elsewhere; the stale session has no claim.
		return
	}
	// Departure notice goes out before any index membership changes.
	m.broadcastLeft(e, now)
	m.grid.remove(id, e.Pos)
	m.regions.remove(e.Region, id)
	m.regions.remove(e.Zone, id)
	delete(m.entities, id)
	m.pendingOffline = append(m.pendingOffline, e.record(false, now.UnixMilli()))
}

func (m *Manager) entitiesInRegion(label string, now time.Time) []protocol.FullState {
	set := m.regions.ids(label)
	if len(set) == 0 {
		return nil
	}
	ts := now.UnixMilli()
	out := make([]protocol.FullState, 0, len(set))
	for id := range set {
		if e := m.entities[id]; e != nil {
			out = append(out, e.fullState(ts))
		}
	}
	return out
}

// handleShutdown stops the scheduler, forces full persistence coverage,
// drains any in-flight flush, then flushes once synchronously.
func (m *Manager) handleShutdown(ctx context.Context, timer *time.Timer) error {
	timer.Stop()
	for _, e := range m.entities {
		e.DBDirty = true
	}
	if m.flushInFlight {
		res := <-m.flushDone
		m.finishFlush(res, time.Now())
	}
	return m.flushSync(ctx, time.Now())
}

// AddEntity registers id with its owning session, or refreshes the session
// of an existing entity. The returned error is ErrInvalidID for a malformed
// id.
func (m *Manager) AddEntity(id string, sess Session, name string) error {
	req := addReq{id: id, name: name, sess: sess, resp: make(chan error, 1)}
	m.add <- req
	return <-req.resp
}

// ApplyUpdate merges an update payload into the entity's state and reports
// whether it was accepted.
func (m *Manager) ApplyUpdate(id string, p protocol.UpdatePayload) bool {
	req := updateReq{id: id, payload: p, resp: make(chan bool, 1)}
	m.update <- req
	return <-req.resp
}

// RemoveEntity broadcasts the departure and purges the entity. It returns
// once the removal has been applied.
func (m *Manager) RemoveEntity(id string) {
	req := removeReq{id: id, done: make(chan struct{})}
	m.removeCh <- req
	<-req.done
}

// ReleaseSession removes id only if sess still owns it, so a stale
// connection's teardown cannot evict a reconnected entity.
func (m *Manager) ReleaseSession(id string, sess Session) {
	req := removeReq{id: id, sess: sess, done: make(chan struct{})}
	m.removeCh <- req
	<-req.done
}

func (m *Manager) Stats() Stats {
	req := statsReq{resp: make(chan Stats, 1)}
	m.statsCh <- req
	return <-req.resp
}

// EntitiesInRegion returns full snapshots of every entity carrying label.
func (m *Manager) EntitiesInRegion(label string) []protocol.FullState {
	req := regionReq{label: label, resp: make(chan []protocol.FullState, 1)}
	m.regionCh <- req
	return <-req.resp
}

// Shutdown stops the tick loop and drains persistence: every remaining
// entity is force-marked storage-dirty and flushed exactly once after any
// in-flight flush completes. No tick executes after Shutdown returns.
func (m *Manager) Shutdown(ctx context.Context) error {
	req := shutdownReq{ctx: ctx, done: make(chan error, 1)}
	select {
	case m.shutdownCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
