package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/frontier"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/tasks"
)

type Config struct {
	ID            string
	Variant       string
	CatalogDigest string

	TickRateHz            int
	DurationScale         float64
	SnapshotEveryFinishes int

	// Applied to the ledger of a fresh session.
	Seed map[string]int
}

type OpKind string

const (
	OpStart  OpKind = "START"
	OpFinish OpKind = "FINISH"
)

// LogEntry records one accepted operation. Replaying the entries in seq
// order on a fresh engine reproduces Digest after each one.
type LogEntry struct {
	Seq    uint64       `json:"seq"`
	TimeMs int64        `json:"time_ms"`
	Kind   OpKind       `json:"kind"`
	TaskID string       `json:"task_id"`
	Key    string       `json:"key"`
	Events []game.Event `json:"events,omitempty"`
	Digest string       `json:"digest"`
}

type EventLogger interface {
	WriteEvent(entry LogEntry) error
}

// View is a read-only picture of the session for clients.
type View struct {
	Seq    uint64         `json:"seq"`
	TimeMs int64          `json:"time_ms"`
	Ledger map[string]int `json:"ledger"`
	Offers []game.Offer   `json:"offers"`
	Digest string         `json:"digest"`
}

// Update is pushed to subscribers after every accepted operation.
type Update struct {
	Seq    uint64         `json:"seq"`
	TimeMs int64          `json:"time_ms"`
	Kind   OpKind         `json:"kind"`
	TaskID string         `json:"task_id"`
	Diff   frontier.Diff  `json:"diff"`
	Delta  map[string]int `json:"delta,omitempty"`
	Events []game.Event   `json:"events,omitempty"`
	View   View           `json:"view"`
}

type StartRequest struct {
	TaskID string
	Resp   chan StartResponse
}

type StartResponse struct {
	Seq    uint64
	Result game.Result
	Err    error
}

type SubscribeRequest struct {
	ID   string
	Out  chan Update
	Resp chan View
}

type Metrics struct {
	Seq         uint64
	Starts      uint64
	Finishes    uint64
	Rejected    uint64
	Subscribers int64
	Snapshots   uint64
}

// Session drives one engine. All engine access happens on the Run
// goroutine; the exported channels are the only way in while it runs.
type Session struct {
	cfg   Config
	clock Clock
	defs  []*tasks.Def
	eng   *game.Engine

	seq                   uint64
	finishesSinceSnapshot int
	finishesTotal         uint64

	subs map[string]chan Update

	start     chan StartRequest
	subscribe chan SubscribeRequest
	leave     chan string
	views     chan chan View
	snapReq   chan chan snapshot.SnapshotV1
	stop      chan struct{}

	eventLogger  EventLogger
	snapshotSink chan<- snapshot.SnapshotV1

	mStarts    atomic.Uint64
	mFinishes  atomic.Uint64
	mRejected  atomic.Uint64
	mSubs      atomic.Int64
	mSnapshots atomic.Uint64
	mSeq       atomic.Uint64
}

var ErrStopped = errors.New("session stopped")

func New(cfg Config, defs []*tasks.Def, clock Clock) *Session {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.DurationScale <= 0 {
		cfg.DurationScale = 1
	}
	if clock == nil {
		clock = RealClock{}
	}
	s := &Session{
		cfg:       cfg,
		clock:     clock,
		defs:      defs,
		eng:       game.Import(defs, game.State{Ledger: cfg.Seed}),
		subs:      map[string]chan Update{},
		start:     make(chan StartRequest, 256),
		subscribe: make(chan SubscribeRequest, 64),
		leave:     make(chan string, 64),
		views:     make(chan chan View, 16),
		snapReq:   make(chan chan snapshot.SnapshotV1, 4),
		stop:      make(chan struct{}),
	}
	return s
}

// Restore replaces the engine state. Call before Run.
func (s *Session) Restore(snap snapshot.SnapshotV1) {
	s.eng = game.Import(s.defs, snap.State())
	s.seq = snap.Header.Seq
	s.finishesTotal = snap.Finishes
	s.mSeq.Store(s.seq)
}

func (s *Session) SetEventLogger(l EventLogger)                  { s.eventLogger = l }
func (s *Session) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) Starts() chan<- StartRequest        { return s.start }
func (s *Session) Subscribe() chan<- SubscribeRequest { return s.subscribe }
func (s *Session) Leave() chan<- string               { return s.leave }

func (s *Session) Metrics() Metrics {
	return Metrics{
		Seq:         s.mSeq.Load(),
		Starts:      s.mStarts.Load(),
		Finishes:    s.mFinishes.Load(),
		Rejected:    s.mRejected.Load(),
		Subscribers: s.mSubs.Load(),
		Snapshots:   s.mSnapshots.Load(),
	}
}

func (s *Session) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.start:
			res, seq, err := s.ApplyStart(req.TaskID)
			if req.Resp != nil {
				req.Resp <- StartResponse{Seq: seq, Result: res, Err: err}
			}
		case req := <-s.subscribe:
			s.subs[req.ID] = req.Out
			s.mSubs.Store(int64(len(s.subs)))
			if req.Resp != nil {
				req.Resp <- s.view()
			}
		case id := <-s.leave:
			delete(s.subs, id)
			s.mSubs.Store(int64(len(s.subs)))
		case ch := <-s.views:
			ch <- s.view()
		case ch := <-s.snapReq:
			ch <- s.exportSnapshot()
		case <-ticker.C:
			s.Step()
		}
	}
}

func (s *Session) Stop() { close(s.stop) }

// CurrentView asks the Run loop for a view.
func (s *Session) CurrentView(ctx context.Context) (View, error) {
	ch := make(chan View, 1)
	select {
	case s.views <- ch:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.stop:
		return View{}, ErrStopped
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// RequestSnapshot asks the Run loop for a snapshot of the current state.
func (s *Session) RequestSnapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	ch := make(chan snapshot.SnapshotV1, 1)
	select {
	case s.snapReq <- ch:
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	case <-s.stop:
		return snapshot.SnapshotV1{}, ErrStopped
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	}
}

// ApplyStart starts taskID at the current clock time. It is what Run does
// for each StartRequest; call it directly only when Run is not active.
func (s *Session) ApplyStart(taskID string) (game.Result, uint64, error) {
	now := s.clock.NowMs()
	res, err := s.eng.Start(taskID, now)
	if err != nil {
		s.mRejected.Add(1)
		return res, s.seq, err
	}
	s.mStarts.Add(1)
	seq := s.commit(OpStart, now, res)
	return res, seq, nil
}

// Step finishes every due task, earliest start first. It is what Run does
// on each tick; call it directly only when Run is not active.
func (s *Session) Step() []game.Result {
	now := s.clock.NowMs()
	var out []game.Result
	for _, id := range s.eng.Due(now, s.cfg.DurationScale) {
		res, err := s.eng.Finish(id)
		if err != nil {
			continue
		}
		s.mFinishes.Add(1)
		s.finishesTotal++
		s.commit(OpFinish, now, res)
		out = append(out, res)

		s.finishesSinceSnapshot++
		if s.cfg.SnapshotEveryFinishes > 0 && s.finishesSinceSnapshot >= s.cfg.SnapshotEveryFinishes {
			s.finishesSinceSnapshot = 0
			s.emitSnapshot()
		}
	}
	return out
}

func (s *Session) commit(kind OpKind, now int64, res game.Result) uint64 {
	s.seq++
	s.mSeq.Store(s.seq)
	digest := s.eng.Digest()

	if s.eventLogger != nil {
		_ = s.eventLogger.WriteEvent(LogEntry{
			Seq:    s.seq,
			TimeMs: now,
			Kind:   kind,
			TaskID: res.TaskID,
			Key:    res.Key,
			Events: res.Events,
			Digest: digest,
		})
	}

	if len(s.subs) > 0 {
		u := Update{
			Seq:    s.seq,
			TimeMs: now,
			Kind:   kind,
			TaskID: res.TaskID,
			Diff:   res.Diff,
			Delta:  res.Delta,
			Events: res.Events,
			View:   s.view(),
		}
		for _, ch := range s.subs {
			sendLatest(ch, u)
		}
	}
	return s.seq
}

func (s *Session) view() View {
	return View{
		Seq:    s.seq,
		TimeMs: s.clock.NowMs(),
		Ledger: s.eng.Ledger().Map(),
		Offers: s.eng.Offers(),
		Digest: s.eng.Digest(),
	}
}

func (s *Session) emitSnapshot() {
	if s.snapshotSink == nil {
		return
	}
	select {
	case s.snapshotSink <- s.exportSnapshot():
		s.mSnapshots.Add(1)
	default:
		// Drop snapshot if sink is backed up.
	}
}

// Snapshot exports the current state. Call only when Run is not active.
func (s *Session) Snapshot() snapshot.SnapshotV1 { return s.exportSnapshot() }

func (s *Session) exportSnapshot() snapshot.SnapshotV1 {
	h := snapshot.Header{
		SessionID: s.cfg.ID,
		Variant:   s.cfg.Variant,
		Seq:       s.seq,
		TimeMs:    s.clock.NowMs(),
	}
	snap := snapshot.FromState(h, s.cfg.CatalogDigest, s.eng.Export())
	snap.Finishes = s.finishesTotal
	return snap
}

// sendLatest never blocks; a slow subscriber loses its oldest update.
func sendLatest(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}
