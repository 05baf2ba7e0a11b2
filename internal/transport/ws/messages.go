package ws

import (
	"errors"

	"alchemy.ai/internal/protocol"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tasks"
)

func catalogMsg(cat *catalogs.Catalog) protocol.CatalogMsg {
	msg := protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Variant:         cat.Variant,
		Title:           cat.Title,
		Digest:          cat.Digest,
		Tasks:           make([]protocol.TaskDef, 0, len(cat.Defs)),
	}
	for _, d := range cat.Defs {
		td := protocol.TaskDef{
			ID:         d.ID,
			Name:       d.Name,
			Limit:      d.Limit,
			DurationMs: d.Duration.Milliseconds(),
		}
		for _, r := range d.Requirements {
			if r.Hidden {
				continue
			}
			td.Requirements = append(td.Requirements, protocol.Requirement{
				Kind:   string(r.Kind),
				ID:     r.Resource,
				Amount: r.Amount,
				Keep:   r.Keep,
			})
		}
		for _, o := range d.Produced() {
			if o.Hidden {
				continue
			}
			td.Outputs = append(td.Outputs, protocol.Output{ID: o.Resource, Count: o.Delta()})
		}
		if d.OnComplete.Kind != tasks.EffectNone {
			td.OnComplete = &protocol.Effect{Kind: string(d.OnComplete.Kind), ID: d.OnComplete.ID}
		}
		msg.Tasks = append(msg.Tasks, td)
	}
	return msg
}

func stateMsg(v session.View) protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Seq:             v.Seq,
		TimeMs:          v.TimeMs,
		Ledger:          v.Ledger,
		Todo:            make([]protocol.TodoItem, 0, len(v.Offers)),
		Digest:          v.Digest,
	}
	if msg.Ledger == nil {
		msg.Ledger = map[string]int{}
	}
	for _, o := range v.Offers {
		msg.Todo = append(msg.Todo, protocol.TodoItem{
			Key:         o.Key,
			ID:          o.ID,
			Name:        o.Name,
			Started:     o.Started,
			StartTimeMs: o.StartTimeMs,
			DurationMs:  o.DurationMs,
			Limit:       o.Limit,
			Times:       o.Times,
		})
	}
	return msg
}

// updateMsgs renders one session update as a STATE followed by its events.
func updateMsgs(u session.Update) []any {
	st := stateMsg(u.View)
	st.Cause = string(u.Kind)
	st.TaskID = u.TaskID
	if !u.Diff.Empty() {
		st.Diff = &protocol.TodoDiff{Added: u.Diff.Added, Removed: u.Diff.Removed}
	}
	st.Delta = u.Delta

	out := []any{st}
	for _, ev := range u.Events {
		em := protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Seq:             u.Seq,
			TimeMs:          u.TimeMs,
			Kind:            string(ev.Kind),
			TaskID:          ev.TaskID,
			Name:            ev.Name,
		}
		if ev.Effect.Kind != tasks.EffectNone {
			em.Effect = &protocol.Effect{Kind: string(ev.Effect.Kind), ID: ev.Effect.ID}
		}
		out = append(out, em)
	}
	return out
}

func rejectAck(actID, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          actID,
		Accepted:        false,
		Code:            code,
		Message:         message,
	}
}

// codeFor maps a start rejection to its wire code.
func codeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, game.ErrUnknownTask):
		return protocol.ErrUnknownTask
	case errors.Is(err, game.ErrNotOffered):
		return protocol.ErrNotOffered
	case errors.Is(err, game.ErrAlreadyStarted):
		return protocol.ErrAlreadyStarted
	case errors.Is(err, game.ErrUnaffordable):
		return protocol.ErrNoResource
	case errors.Is(err, session.ErrStopped):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}
