package world

import (
	"time"

	"windrift.gg/internal/protocol"
)

// Session is the transport-facing send side of a connected client. Send must
// not block: it either enqueues the frame or fails immediately, in which
// case the broadcast engine treats the recipient as unreachable for the
// remainder of the tick.
type Session interface {
	ID() string
	Send(b []byte) error
}

// Entity is the authoritative record for one connected mobile entity.
// All fields are owned by the manager loop goroutine.
type Entity struct {
	ID      string
	Name    string
	Session Session

	Pos protocol.Vec3
	Vel protocol.Vec3
	Rot protocol.Quat

	// Optional coarse logical groupings, orthogonal to position.
	Region string
	Zone   string

	// Seq increases on every accepted update and wraps mod 2^32.
	Seq uint32

	LastUpdate    time.Time
	LastBroadcast time.Time

	// Previous position/rotation snapshot for delta-significance testing.
	PrevPos protocol.Vec3
	PrevRot protocol.Quat

	Dirty            bool // broadcast pending
	DBDirty          bool // persist pending
	NeedsInitialSync bool
}

func newEntity(id, name string, sess Session) *Entity {
	return &Entity{
		ID:      id,
		Name:    name,
		Session: sess,
		Rot:     protocol.Quat{W: 1},
		PrevRot: protocol.Quat{W: 1},

		NeedsInitialSync: true,
		DBDirty:          true,
	}
}

func (e *Entity) fullState(ts int64) protocol.FullState {
	return protocol.FullState{
		EntityID:  e.ID,
		Name:      e.Name,
		Position:  e.Pos,
		Velocity:  e.Vel,
		Rotation:  e.Rot,
		Region:    e.Region,
		Zone:      e.Zone,
		Seq:       e.Seq,
		Timestamp: ts,
	}
}

func (e *Entity) deltaState(ts int64) protocol.DeltaState {
	return protocol.DeltaState{
		EntityID:  e.ID,
		Position:  e.Pos,
		Velocity:  e.Vel,
		Rotation:  e.Rot,
		Seq:       e.Seq,
		Timestamp: ts,
	}
}

func (e *Entity) record(online bool, ts int64) Record {
	sessionID := ""
	if e.Session != nil {
		sessionID = e.Session.ID()
	}
	return Record{
		ID:        e.ID,
		Name:      e.Name,
		Region:    e.Region,
		Zone:      e.Zone,
		Pos:       e.Pos,
		Vel:       e.Vel,
		Rot:       e.Rot,
		Online:    online,
		SessionID: sessionID,
		UpdatedAt: ts,
	}
}
