package world

// Stats is the engine's cumulative counter snapshot.
type Stats struct {
	TicksProcessed uint64  `json:"ticks_processed"`
	UpdatesSent    uint64  `json:"updates_sent"`
	DBPersists     uint64  `json:"db_persists"`
	TickOverruns   uint64  `json:"tick_overruns"`
	MaxTickMS      float64 `json:"max_tick_ms"`
	EntityCount    int     `json:"entity_count"`
	CellCount      int     `json:"cell_count"`
	CurrentTick    uint64  `json:"current_tick"`
}

func (m *Manager) snapshotStats() Stats {
	return Stats{
		TicksProcessed: m.ticksProcessed,
		UpdatesSent:    m.updatesSent,
		DBPersists:     m.dbPersists,
		TickOverruns:   m.tickOverruns,
		MaxTickMS:      float64(m.maxTickDuration.Microseconds()) / 1000.0,
		EntityCount:    len(m.entities),
		CellCount:      m.grid.cellCount(),
		CurrentTick:    m.tick.Load(),
	}
}

// Metrics reports channel backlog depths and the current tick. Unlike
// Stats it does not round-trip through the manager loop, so it stays
// readable while a tick is running.
type Metrics struct {
	Tick        uint64      `json:"tick"`
	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Update int `json:"update"`
	Add    int `json:"add"`
	Remove int `json:"remove"`
}

func (m *Manager) Metrics() Metrics {
	return Metrics{
		Tick: m.tick.Load(),
		QueueDepths: QueueDepths{
			Update: len(m.update),
			Add:    len(m.add),
			Remove: len(m.removeCh),
		},
	}
}
