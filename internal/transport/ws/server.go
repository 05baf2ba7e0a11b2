package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"alchemy.ai/internal/protocol"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tuning"
)

type Server struct {
	sess   *session.Session
	cat    *catalogs.Catalog
	limits tuning.RateLimits
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sess *session.Session, cat *catalogs.Catalog, limits tuning.RateLimits, logger *log.Logger) *Server {
	s := &Server{
		sess:   sess,
		cat:    cat,
		limits: limits,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
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

		clientID, updates := s.handshake(ctx, conn)
		if clientID == "" {
			return
		}
		defer s.leave(clientID)

		acks := make(chan protocol.AckMsg, 8)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case a := <-acks:
					if err := writeJSON(conn, a); err != nil {
						cancel()
						return
					}
				case u := <-updates:
					for _, m := range updateMsgs(u) {
						if err := writeJSON(conn, m); err != nil {
							cancel()
							return
						}
					}
				}
			}
		}()

		lim := s.newLimiter()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			ack, ok := s.handleMessage(ctx, lim, msg)
			if !ok {
				continue
			}
			select {
			case acks <- ack:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	perSec := s.limits.ActPerSecond
	burst := s.limits.ActBurst
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// handleMessage turns one client frame into an ACK. Frames that are not
// ACT are ignored.
func (s *Server) handleMessage(ctx context.Context, lim *rate.Limiter, msg []byte) (protocol.AckMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return rejectAck("", protocol.ErrProtoBadRequest, "invalid json"), true
	}
	if base.Type != protocol.TypeAct {
		return protocol.AckMsg{}, false
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		return rejectAck("", protocol.ErrProtoBadRequest, "invalid ACT"), true
	}
	if act.ProtocolVersion != protocol.Version {
		return rejectAck(act.ActID, protocol.ErrProtoBadRequest, "bad protocol_version"), true
	}
	if act.Op != protocol.OpStart {
		return rejectAck(act.ActID, protocol.ErrBadRequest, fmt.Sprintf("unsupported op %q", act.Op)), true
	}
	taskID := strings.TrimSpace(act.TaskID)
	if taskID == "" {
		return rejectAck(act.ActID, protocol.ErrBadRequest, "missing task_id"), true
	}
	if !lim.Allow() {
		return rejectAck(act.ActID, protocol.ErrRateLimit, "too many actions"), true
	}

	resp, err := s.start(ctx, taskID)
	if err != nil {
		ack := rejectAck(act.ActID, codeFor(err), err.Error())
		if ack.Code == protocol.ErrUnknownTask {
			if sug, ok := s.cat.Closest(taskID); ok {
				ack.Suggestion = sug
			}
		}
		return ack, true
	}
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          act.ActID,
		Accepted:        true,
		Seq:             resp.Seq,
	}, true
}

func (s *Server) start(ctx context.Context, taskID string) (session.StartResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	respCh := make(chan session.StartResponse, 1)
	select {
	case s.sess.Starts() <- session.StartRequest{TaskID: taskID, Resp: respCh}:
	case <-ctx.Done():
		return session.StartResponse{}, session.ErrStopped
	}
	select {
	case resp := <-respCh:
		return resp, resp.Err
	case <-ctx.Done():
		return session.StartResponse{}, session.ErrStopped
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (clientID string, updates chan session.Update) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	updates = make(chan session.Update, maxQ)
	clientID = uuid.NewString()

	viewCh := make(chan session.View, 1)
	select {
	case s.sess.Subscribe() <- session.SubscribeRequest{ID: clientID, Out: updates, Resp: viewCh}:
	case <-ctx.Done():
		return "", nil
	}
	var view session.View
	select {
	case view = <-viewCh:
	case <-ctx.Done():
		return "", nil
	}

	cfg := s.sess.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       cfg.ID,
		ClientID:        clientID,
		Params: protocol.SessionParams{
			TickRateHz:    cfg.TickRateHz,
			DurationScale: cfg.DurationScale,
			ActPerSecond:  s.limits.ActPerSecond,
			ActBurst:      s.limits.ActBurst,
		},
		Catalog: protocol.CatalogRef{
			Variant: s.cat.Variant,
			Digest:  s.cat.Digest,
			Count:   len(s.cat.Defs),
		},
	}

	// Send welcome, catalog and the current state before any update.
	for _, m := range []any{welcome, catalogMsg(s.cat), stateMsg(view)} {
		if err := writeJSON(conn, m); err != nil {
			s.leave(clientID)
			return "", nil
		}
	}
	if s.log != nil {
		s.log.Printf("client joined: id=%s name=%q", clientID, hello.ClientName)
	}
	return clientID, updates
}

func (s *Server) leave(clientID string) {
	select {
	case s.sess.Leave() <- clientID:
	case <-time.After(time.Second):
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
