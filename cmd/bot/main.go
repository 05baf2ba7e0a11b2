package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"alchemy.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		maxStart = flag.Int("max_starts", 0, "exit after this many accepted starts (0 = no limit)")
		exitIdle = flag.Bool("exit_when_idle", true, "exit once nothing is offered or running")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities: protocol.HelloCapabilities{
			MaxQueue: 16,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := newBot()
	for {
		select {
		case <-stop:
			return
		default:
		}

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
			logger.Printf("WELCOME session=%s client=%s variant=%s tasks=%d", w.SessionID, w.ClientID, w.Catalog.Variant, w.Catalog.Count)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if *exitIdle && len(st.Todo) == 0 {
				logger.Printf("idle at seq=%d ledger=%v", st.Seq, st.Ledger)
				return
			}
			if act, ok := b.next(st); ok {
				if err := conn.WriteJSON(act); err != nil {
					return
				}
			}

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			b.acked(ack)
			if !ack.Accepted {
				logger.Printf("rejected %s: %s %s", ack.AckFor, ack.Code, ack.Message)
			}
			if *maxStart > 0 && b.started >= *maxStart {
				logger.Printf("reached %d starts", b.started)
				return
			}

		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Kind == "ACHIEVEMENT" {
				logger.Printf("achievement: %s", ev.Name)
			} else if ev.Effect != nil {
				logger.Printf("effect %s %s from %s", ev.Effect.Kind, ev.Effect.ID, ev.TaskID)
			}
		}
	}
}

// bot starts the first offered task that is not running. At most one ACT
// is in flight at a time.
type bot struct {
	seq     int
	pending string
	started int
}

func newBot() *bot { return &bot{} }

func (b *bot) next(st protocol.StateMsg) (protocol.ActMsg, bool) {
	if b.pending != "" {
		return protocol.ActMsg{}, false
	}
	for _, it := range st.Todo {
		if it.Started {
			continue
		}
		b.seq++
		b.pending = fmt.Sprintf("A_%d", b.seq)
		return protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			ActID:           b.pending,
			Op:              protocol.OpStart,
			TaskID:          it.ID,
		}, true
	}
	return protocol.ActMsg{}, false
}

func (b *bot) acked(ack protocol.AckMsg) {
	if ack.AckFor != b.pending {
		return
	}
	b.pending = ""
	if ack.Accepted {
		b.started++
	}
}
