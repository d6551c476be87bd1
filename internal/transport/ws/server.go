// Package ws serves playthroughs over a websocket: HELLO/WELCOME to attach
// to a save, then TURN in and NARRATION (or ERROR) out, one at a time.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/ledger"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
)

const (
	helloTimeout = 10 * time.Second
	idleTimeout  = 10 * time.Minute
	writeTimeout = 5 * time.Second
	outQueue     = 8
)

// Sessions is the part of the session manager the transport needs.
type Sessions interface {
	Create(ctx context.Context, player, pkg string) (*session.Session, error)
	Open(id string) (*session.Session, error)
}

type Server struct {
	sessions Sessions
	reg      *registry.Registry
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sessions Sessions, reg *registry.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		sessions: sessions,
		reg:      reg,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := s.handshake(ctx, conn)
		if sess == nil {
			return
		}

		out := make(chan any, outQueue)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case v := <-out:
					if err := writeJSON(conn, v); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp := s.handleTurn(ctx, sess, msg)
			select {
			case out <- resp:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
	}
}

// handleTurn runs one TURN message and builds the reply.
func (s *Server) handleTurn(ctx context.Context, sess *session.Session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeTurn {
		return errorMsg("", protocol.ErrProtoBadRequest, "expected TURN")
	}
	if err := protocol.Validate(protocol.SchemaTurn, msg); err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, err.Error())
	}
	var turn protocol.TurnMsg
	if err := json.Unmarshal(msg, &turn); err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "bad TURN")
	}
	o, err := sess.Turn(ctx, turn.Text)
	if err != nil {
		s.log.Printf("save=%s turn failed: %v", sess.ID(), err)
		return errorMsg(turn.Ref, protocol.CodeOf(err), publicMessage(err))
	}
	return protocol.NarrationMsg{
		Type:      protocol.TypeNarration,
		Ref:       turn.Ref,
		Turn:      o.Turn,
		Text:      o.Narrative,
		Package:   o.Package,
		Location:  o.Location,
		Path:      o.Path,
		Rejected:  o.Rejected,
		Degraded:  o.Degraded,
		Compacted: o.Compacted,
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session.Session {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.Validate(protocol.SchemaHello, msg); err != nil {
		_ = writeJSON(conn, errorMsg("", protocol.ErrProtoBadRequest, err.Error()))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	var (
		sess    *session.Session
		resumed bool
	)
	if id := strings.TrimSpace(hello.SaveID); id != "" {
		sess, err = s.sessions.Open(id)
		resumed = true
	} else {
		sess, err = s.sessions.Create(ctx, hello.PlayerName, "")
	}
	if err != nil {
		s.log.Printf("hello save=%q: %v", hello.SaveID, err)
		_ = writeJSON(conn, errorMsg("", protocol.CodeOf(err), publicMessage(err)))
		return nil
	}

	rec := sess.Record()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SaveID:          sess.ID(),
		Resumed:         resumed,
		Package:         rec.Active,
		Location:        rec.Location,
		Packages:        s.packageRefs(rec),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) packageRefs(rec ledger.Record) []protocol.PackageRef {
	var out []protocol.PackageRef
	for _, id := range s.reg.PackageIDs() {
		ref := protocol.PackageRef{PackageID: id, Completed: rec.IsCompleted(id)}
		if p, ok := s.reg.Package(id); ok {
			ref.Title = p.Manifest.Title
		}
		ref.EntryPoint, _ = s.reg.EntryPoint(id)
		_, ref.Visited = rec.LastVisit(id)
		out = append(out, ref)
	}
	return out
}

func errorMsg(ref, code, message string) protocol.ErrorMsg {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	return protocol.ErrorMsg{Type: protocol.TypeError, Ref: ref, Code: code, Message: message}
}

// publicMessage hides internal failures from the client.
func publicMessage(err error) string {
	if protocol.CodeOf(err) == protocol.ErrInternal {
		return "internal error"
	}
	return err.Error()
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
