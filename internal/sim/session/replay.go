package session

import (
	"fmt"

	"alchemy.ai/internal/sim/game"
)

// Replay applies the entries after startSeq to eng and checks the ledger
// digest after each one. Entries must be sorted and contiguous by seq. A
// toSeq of 0 replays to the end. It returns the number of entries applied.
func Replay(eng *game.Engine, entries []LogEntry, startSeq, toSeq uint64) (int, error) {
	applied := 0
	next := startSeq + 1
	for _, e := range entries {
		if e.Seq <= startSeq {
			continue
		}
		if toSeq != 0 && e.Seq > toSeq {
			break
		}
		if e.Seq != next {
			return applied, fmt.Errorf("seq gap: want=%d got=%d", next, e.Seq)
		}
		next++

		var (
			res game.Result
			err error
		)
		switch e.Kind {
		case OpStart:
			res, err = eng.Start(e.TaskID, e.TimeMs)
		case OpFinish:
			res, err = eng.Finish(e.TaskID)
		default:
			return applied, fmt.Errorf("seq %d: unknown kind %q", e.Seq, e.Kind)
		}
		if err != nil {
			return applied, fmt.Errorf("seq %d: %w", e.Seq, err)
		}
		if e.Key != "" && res.Key != e.Key {
			return applied, fmt.Errorf("seq %d: key mismatch: got=%s want=%s", e.Seq, res.Key, e.Key)
		}
		if got := eng.Digest(); got != e.Digest {
			return applied, fmt.Errorf("digest mismatch at seq %d: got=%s want=%s", e.Seq, got, e.Digest)
		}
		applied++
	}
	return applied, nil
}

// Resume brings a restored (or fresh) session up to date with its event
// log by replaying every entry after the current seq. The session then
// continues numbering after the last applied entry. Call before Run.
func (s *Session) Resume(entries []LogEntry) (int, error) {
	base := s.seq
	n, err := Replay(s.eng, entries, base, 0)
	for _, e := range entries {
		if e.Seq > base && e.Seq <= base+uint64(n) && e.Kind == OpFinish {
			s.finishesTotal++
			s.finishesSinceSnapshot++
		}
	}
	s.seq = base + uint64(n)
	s.mSeq.Store(s.seq)
	return n, err
}
