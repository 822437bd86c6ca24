package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	seslog "windrift.gg/internal/persistence/log"
	"windrift.gg/internal/protocol"
	"windrift.gg/internal/sim/world"
)

// SessionRecorder receives connection lifecycle events. May be nil.
type SessionRecorder interface {
	WriteSession(entry seslog.SessionLogEntry) error
}

type Server struct {
	mgr      *world.Manager
	log      *log.Logger
	params   protocol.WorldParams
	sessions SessionRecorder

	upgrader websocket.Upgrader
}

func NewServer(mgr *world.Manager, params protocol.WorldParams, logger *log.Logger) *Server {
	return &Server{
		mgr:    mgr,
		log:    logger,
		params: params,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SetSessionRecorder installs the join/leave log sink. Call before serving.
func (s *Server) SetSessionRecorder(r SessionRecorder) { s.sessions = r }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		entityID, sess := s.handshake(conn)
		if entityID == "" {
			return
		}
		s.recordSession("join", entityID, sess.id, r.RemoteAddr, "")

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-sess.closed:
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						sess.close()
						return
					}
				}
			}
		}()

		reason := s.readLoop(conn, entityID)

		sess.close()
		<-writerDone
		s.mgr.ReleaseSession(entityID, sess)
		s.recordSession("leave", entityID, sess.id, r.RemoteAddr, reason)
	}
}

func (s *Server) readLoop(conn *websocket.Conn, entityID string) (reason string) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client closed"
			}
			return err.Error()
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeUpdate {
			continue
		}
		var upd protocol.UpdateMsg
		if err := json.Unmarshal(msg, &upd); err != nil {
			continue
		}
		if upd.ProtocolVersion != "" && upd.ProtocolVersion != protocol.Version {
			continue
		}
		s.mgr.ApplyUpdate(entityID, upd.UpdatePayload)
	}
}

// handshake performs HELLO -> join -> WELCOME. A failed handshake closes
// the connection with a policy-violation reason and returns an empty id.
func (s *Server) handshake(conn *websocket.Conn) (string, *session) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", nil
	}

	entityID := hello.EntityID
	if entityID == "" {
		entityID = uuid.NewString()
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 256
	}
	if maxQ > 1024 {
		maxQ = 1024
	}
	sess := newSession(uuid.NewString(), maxQ)

	if err := s.mgr.AddEntity(entityID, sess, hello.Name); err != nil {
		if errors.Is(err, world.ErrInvalidID) {
			closePolicy(conn, "invalid entity_id")
		}
		s.log.Printf("join %q failed: %v", entityID, err)
		return "", nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		EntityID:        entityID,
		WorldParams:     s.params,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.mgr.ReleaseSession(entityID, sess)
		return "", nil
	}
	return entityID, sess
}

func (s *Server) recordSession(event, entityID, sessionID, addr, reason string) {
	if s.sessions == nil {
		return
	}
	_ = s.sessions.WriteSession(seslog.SessionLogEntry{
		TS:         time.Now().UnixMilli(),
		Event:      event,
		EntityID:   entityID,
		SessionID:  sessionID,
		RemoteAddr: addr,
		Reason:     reason,
	})
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
