package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"windrift.gg/internal/protocol"
)

// bot connects n wandering entities: each sends positional UPDATEs at a
// fixed rate and logs what the server fans back. Useful for smoke tests
// and load probing.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		n      = flag.Int("n", 1, "number of concurrent walkers")
		prefix = flag.String("prefix", "bot", "entity id prefix (empty: server-assigned ids)")
		region = flag.String("region", "wilds", "region label to report")
		hz     = flag.Int("hz", 10, "update rate per walker")
		speed  = flag.Float64("speed", 3.0, "movement speed, units/s")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	done := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		entityID := ""
		if *prefix != "" {
			entityID = fmt.Sprintf("%s_%d", *prefix, i+1)
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := runWalker(*url, id, *region, *hz, *speed, logger, done); err != nil {
				logger.Printf("%s: %v", id, err)
			}
		}(entityID)
	}
	wg.Wait()
}

func runWalker(url, entityID, region string, hz int, speed float64, logger *log.Logger, done <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		EntityID:        entityID,
		Name:            entityID,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 256},
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	// Reader: log the interesting server frames.
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME entity_id=%s tick_rate=%d cell=%v",
					w.EntityID, w.WorldParams.TickRateHz, w.WorldParams.CellSize)
			case protocol.TypeStatesInitial:
				var si protocol.StatesInitialMsg
				if err := json.Unmarshal(msg, &si); err != nil {
					continue
				}
				logger.Printf("%s STATES_INITIAL tick=%d neighbors=%d", entityID, si.Tick, len(si.States))
			case protocol.TypeEntityJoined:
				var j protocol.EntityJoinedMsg
				if err := json.Unmarshal(msg, &j); err != nil {
					continue
				}
				logger.Printf("%s sees ENTITY_JOINED %s", entityID, j.State.EntityID)
			case protocol.TypeEntityLeft:
				var l protocol.EntityLeftMsg
				if err := json.Unmarshal(msg, &l); err != nil {
					continue
				}
				logger.Printf("%s sees ENTITY_LEFT %s", entityID, l.EntityID)
			}
		}
	}()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	pos := protocol.Vec3{X: r.Float64() * 200, Z: r.Float64() * 200}
	heading := r.Float64() * 2 * math.Pi

	interval := time.Second / time.Duration(hz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sentRegion := false
	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case <-ticker.C:
		}

		// Random walk: drift the heading, step along it.
		heading += (r.Float64() - 0.5) * 0.4
		step := speed * interval.Seconds()
		pos.X += math.Cos(heading) * step
		pos.Z += math.Sin(heading) * step
		vel := protocol.Vec3{X: math.Cos(heading) * speed, Z: math.Sin(heading) * speed}
		half := heading / 2
		rot := protocol.Quat{Y: math.Sin(half), W: math.Cos(half)}

		upd := protocol.UpdateMsg{
			Type:            protocol.TypeUpdate,
			ProtocolVersion: protocol.Version,
			UpdatePayload: protocol.UpdatePayload{
				Position: &pos,
				Velocity: &vel,
				Rotation: &rot,
			},
		}
		if !sentRegion && region != "" {
			upd.Region = &region
			sentRegion = true
		}
		if err := conn.WriteJSON(upd); err != nil {
			return fmt.Errorf("send UPDATE: %w", err)
		}
	}
}
