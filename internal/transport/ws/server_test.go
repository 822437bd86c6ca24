package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"windrift.gg/internal/protocol"
	"windrift.gg/internal/sim/world"
)

func startTestServer(t *testing.T) (*world.Manager, string) {
	t.Helper()
	mgr := world.New(world.Config{TickRateHz: 100, DBPersistEvery: time.Hour}, nil, nil)
	go func() { _ = mgr.Run(context.Background()) }()
	t.Cleanup(mgr.Stop)

	params := protocol.WorldParams{TickRateHz: 100, CellSize: 256, MaxSyncDistance: 2000}
	srv := NewServer(mgr, params, log.New(testWriter{t}, "", 0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return mgr, "ws" + strings.TrimPrefix(ts.URL, "http")
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func hello(t *testing.T, conn *websocket.Conn, entityID, name string) protocol.WelcomeMsg {
	t.Helper()
	sendJSON(t, conn, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		EntityID:        entityID,
		Name:            name,
	})
	var welcome protocol.WelcomeMsg
	readTyped(t, conn, protocol.TypeWelcome, &welcome)
	return welcome
}

// readTyped reads frames until one of the wanted type arrives.
func readTyped(t *testing.T, conn *websocket.Conn, wantType string, v any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("bad frame %q: %v", msg, err)
		}
		if base.Type != wantType {
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("decode %s: %v", wantType, err)
		}
		return
	}
}

func update(t *testing.T, conn *websocket.Conn, x, y, z float64) {
	t.Helper()
	sendJSON(t, conn, protocol.UpdateMsg{
		Type:            protocol.TypeUpdate,
		ProtocolVersion: protocol.Version,
		UpdatePayload: protocol.UpdatePayload{
			Position: &protocol.Vec3{X: x, Y: y, Z: z},
		},
	})
}

func TestHandshakeAndWelcome(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)

	welcome := hello(t, conn, "alice", "Alice")
	if welcome.EntityID != "alice" {
		t.Fatalf("welcome entity_id = %q, want alice", welcome.EntityID)
	}
	if welcome.WorldParams.CellSize != 256 || welcome.WorldParams.MaxSyncDistance != 2000 {
		t.Fatalf("world params = %+v", welcome.WorldParams)
	}
}

func TestHandshakeAssignsIDWhenAbsent(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)

	welcome := hello(t, conn, "", "")
	if welcome.EntityID == "" {
		t.Fatal("server must assign an entity id")
	}
}

func TestHandshakeRejectsNonHello(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)

	update(t, conn, 1, 2, 3)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection must be closed after a non-HELLO first frame")
	}
}

func TestStateFanOut(t *testing.T) {
	mgr, url := startTestServer(t)

	alice := dial(t, url)
	hello(t, alice, "alice", "Alice")
	update(t, alice, 0, 0, 0)
	var aliceInit protocol.StatesInitialMsg
	readTyped(t, alice, protocol.TypeStatesInitial, &aliceInit)
	if len(aliceInit.States) != 0 {
		t.Fatalf("first joiner sees %d neighbors, want 0", len(aliceInit.States))
	}

	bob := dial(t, url)
	hello(t, bob, "bob", "Bob")
	update(t, bob, 10, 0, 0)

	var bobInit protocol.StatesInitialMsg
	readTyped(t, bob, protocol.TypeStatesInitial, &bobInit)
	if len(bobInit.States) != 1 || bobInit.States[0].EntityID != "alice" {
		t.Fatalf("bob's initial states = %+v, want alice", bobInit.States)
	}

	var joined protocol.EntityJoinedMsg
	readTyped(t, alice, protocol.TypeEntityJoined, &joined)
	if joined.State.EntityID != "bob" {
		t.Fatalf("joined notice for %q, want bob", joined.State.EntityID)
	}

	// Alice moves; bob receives the delta batch on a subsequent tick.
	update(t, alice, 5, 0, 0)
	var batch protocol.StatesBatchMsg
	readTyped(t, bob, protocol.TypeStatesBatch, &batch)
	if len(batch.States) == 0 || batch.States[0].EntityID != "alice" {
		t.Fatalf("delta batch = %+v, want alice's state", batch.States)
	}
	if batch.States[0].Position.X != 5 {
		t.Fatalf("delta position = %+v, want x=5", batch.States[0].Position)
	}

	// Alice disconnects; bob is told she left and the world forgets her.
	_ = alice.Close()
	var left protocol.EntityLeftMsg
	readTyped(t, bob, protocol.TypeEntityLeft, &left)
	if left.EntityID != "alice" {
		t.Fatalf("left notice for %q, want alice", left.EntityID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for mgr.Stats().EntityCount != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("EntityCount = %d, want 1 after disconnect", mgr.Stats().EntityCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
