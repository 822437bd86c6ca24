package protocol

// Vec3 is a world-space vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is an orientation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	EntityID        string            `json:"entity_id,omitempty"`
	Name            string            `json:"name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	EntityID        string      `json:"entity_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz      int     `json:"tick_rate_hz"`
	CellSize        float64 `json:"cell_size"`
	MaxSyncDistance float64 `json:"max_sync_distance"`
}

// UPDATE (client -> server). The payload fields are inlined so a client
// sends e.g. {"type":"UPDATE","position":{...},"velocityX":1.5}.
type UpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	UpdatePayload
}

// FullState is the complete public state of one entity, sent on initial
// sync and join notices.
type FullState struct {
	EntityID  string `json:"entity_id"`
	Name      string `json:"name,omitempty"`
	Position  Vec3   `json:"position"`
	Velocity  Vec3   `json:"velocity"`
	Rotation  Quat   `json:"rotation"`
	Region    string `json:"region,omitempty"`
	Zone      string `json:"zone,omitempty"`
	Seq       uint32 `json:"seq"`
	Timestamp int64  `json:"ts"`
}

// DeltaState is the minimal steady-state broadcast payload.
type DeltaState struct {
	EntityID  string `json:"entity_id"`
	Position  Vec3   `json:"position"`
	Velocity  Vec3   `json:"velocity"`
	Rotation  Quat   `json:"rotation"`
	Seq       uint32 `json:"seq"`
	Timestamp int64  `json:"ts"`
}

// STATES_INITIAL (server -> client): one-time nearby-state sync after the
// entity's first accepted update.
type StatesInitialMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	ServerTS        int64       `json:"server_ts"`
	States          []FullState `json:"states"`
}

// ENTITY_JOINED (server -> client)
type EntityJoinedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	ServerTS        int64     `json:"server_ts"`
	State           FullState `json:"state"`
}

// ENTITY_LEFT (server -> client)
type EntityLeftMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ServerTS        int64  `json:"server_ts"`
	EntityID        string `json:"entity_id"`
}

// STATES_BATCH (server -> client): chunked per-tick delta fan-out.
type StatesBatchMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	ServerTS        int64        `json:"server_ts"`
	States          []DeltaState `json:"states"`
}
