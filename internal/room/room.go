// Package room runs one live reading session: a single goroutine owns the
// cursor and the casting table, applies commands in arrival order and pushes
// a snapshot to every connected reader after each change.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/engine"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

const defaultSaveTimeout = 5 * time.Second

// ProgressSaver persists what a room commits. Calls happen off the room
// goroutine; only Seek and Reseat senders wait for them.
type ProgressSaver interface {
	SaveProgress(ctx context.Context, sessionID string, p store.Progress) error
	SaveAssignments(ctx context.Context, sessionID string, a store.Assignments) error
}

type Msg interface{ isRoomMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot
}

type Leave struct{ ClientID string }

// FromClient carries a navigation command. Reply, if set, gets the result.
type FromClient struct {
	Cmd   engine.Command
	Reply chan<- error
}

type Assign struct {
	Character string
	Slot      casting.Slot
	Reply     chan<- error
}

type Unassign struct {
	Character string
	Reply     chan<- error
}

type RenamePlayer struct {
	Slot  casting.Slot
	Name  string
	Reply chan<- error
}

type SetPlayerCount struct {
	Count int
	Reply chan<- error
}

// Reseat replaces the whole table, e.g. after a REST update of the roster.
// Reply fires once the new roster is stored.
type Reseat struct {
	Roster casting.Roster
	Reply  chan<- error
}

// Seek jumps to the start of a panel, e.g. after a REST progress update.
// Reply fires once the move is stored.
type Seek struct {
	Page  int
	Panel int
	Reply chan<- error
}

type GetState struct {
	Reply chan View
}

// Retire stops the room if nobody is connected. Reply says whether it did.
type Retire struct {
	Reply chan bool
}

type Shutdown struct{}

func (Join) isRoomMsg()           {}
func (Leave) isRoomMsg()          {}
func (FromClient) isRoomMsg()     {}
func (Assign) isRoomMsg()         {}
func (Unassign) isRoomMsg()       {}
func (RenamePlayer) isRoomMsg()   {}
func (SetPlayerCount) isRoomMsg() {}
func (Reseat) isRoomMsg()         {}
func (Seek) isRoomMsg()           {}
func (GetState) isRoomMsg()       {}
func (Retire) isRoomMsg()         {}
func (Shutdown) isRoomMsg()       {}

// Snapshot is everything a reader needs to render the current turn. Turn is
// recomputed from the live table every time.
type Snapshot struct {
	Version      int
	State        engine.State
	Bubble       *comic.Bubble
	Turn         *engine.Speaker
	PanelBubbles int
	BubbleCount  int
	Players      []string
	Seats        []casting.Seat
	AICharacters []string
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Seq        int64
	RosterSeq  int64
	Roster     casting.Roster
}

type Config struct {
	SessionID   string
	Doc         *comic.Document
	Table       *casting.Table
	Cursor      engine.Cursor
	Seq         int64 // last persisted progress sequence
	RosterSeq   int64 // last persisted roster sequence
	Saver       ProgressSaver
	Logger      *zap.Logger
	SaveTimeout time.Duration
}

type Room struct {
	id          string
	inbox       chan Msg
	doc         *comic.Document
	table       *casting.Table
	state       engine.State
	version     int
	seq         int64
	rosterSeq   int64
	clients     map[string]chan Snapshot
	saver       ProgressSaver
	saveTimeout time.Duration
	log         *zap.Logger
	saves       sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewRoom(parent context.Context, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.SaveTimeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	table := cfg.Table
	if table == nil {
		table = casting.FromRoster(casting.Roster{})
	}

	r := &Room{
		id:          cfg.SessionID,
		inbox:       make(chan Msg, 64),
		doc:         cfg.Doc,
		table:       table,
		state:       engine.NewState(cfg.Doc, cfg.Cursor),
		seq:         cfg.Seq,
		rosterSeq:   cfg.RosterSeq,
		clients:     make(map[string]chan Snapshot),
		saver:       cfg.Saver,
		saveTimeout: timeout,
		log:         logger.With(zap.String("session_id", cfg.SessionID)),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Room) SessionID() string { return r.id }

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has stopped and its pending saves finished.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- r.snapshot()

			case Leave:
				delete(r.clients, msg.ClientID)

			case FromClient:
				reply(msg.Reply, r.navigate(msg.Cmd))

			case Assign:
				reply(msg.Reply, r.recast(func() error {
					name := comic.CharacterName(msg.Character)
					if !r.doc.HasCharacter(name) {
						return comic.ErrUnknownCharacter
					}
					return r.table.Assign(name, msg.Slot)
				}))

			case Unassign:
				reply(msg.Reply, r.recast(func() error {
					r.table.Unassign(comic.CharacterName(msg.Character))
					return nil
				}))

			case RenamePlayer:
				reply(msg.Reply, r.recast(func() error {
					return r.table.RenamePlayer(msg.Slot, msg.Name)
				}))

			case SetPlayerCount:
				reply(msg.Reply, r.recast(func() error {
					return r.table.SetPlayerCount(msg.Count)
				}))

			case Reseat:
				r.table = casting.FromRoster(msg.Roster)
				r.commit()
				r.persistRoster(r.table.Roster(r.doc.Characters), msg.Reply)

			case Seek:
				r.seek(msg.Page, msg.Panel, msg.Reply)

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					State:      r.state,
					Seq:        r.seq,
					RosterSeq:  r.rosterSeq,
					Roster:     r.table.Roster(r.doc.Characters),
				}

			case Retire:
				if len(r.clients) > 0 {
					msg.Reply <- false
					break
				}
				r.shutdown()
				msg.Reply <- true
				return

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) navigate(cmd engine.Command) error {
	events, next, err := engine.Apply(r.doc, r.state, cmd)
	if err != nil {
		r.log.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return err
	}
	r.state = next
	r.commit()
	if engine.Moved(events) {
		r.persistProgress(next.Cursor, nil)
	}
	return nil
}

// seek answers done after the move is stored, or at once if nothing moved.
func (r *Room) seek(page, panel int, done chan<- error) {
	c, err := engine.Locate(r.doc, page, panel)
	if err != nil {
		reply(done, err)
		return
	}
	moved := c.Page != r.state.Cursor.Page || c.Panel != r.state.Cursor.Panel
	r.state = engine.NewState(r.doc, c)
	r.commit()
	if !moved {
		reply(done, nil)
		return
	}
	r.persistProgress(c, done)
}

func (r *Room) recast(change func() error) error {
	if err := change(); err != nil {
		return err
	}
	r.commit()
	r.persistRoster(r.table.Roster(r.doc.Characters), nil)
	return nil
}

func (r *Room) commit() {
	r.version++
	r.broadcast(r.snapshot())
}

func (r *Room) persistProgress(c engine.Cursor, done chan<- error) {
	if r.saver == nil {
		reply(done, nil)
		return
	}
	r.seq++
	p := store.Progress{Page: c.Page, Panel: c.Panel, Seq: r.seq}
	r.save(done, func(ctx context.Context) error {
		return r.saver.SaveProgress(ctx, r.id, p)
	}, zap.Int("page", p.Page), zap.Int("panel", p.Panel), zap.Int64("seq", p.Seq))
}

func (r *Room) persistRoster(roster casting.Roster, done chan<- error) {
	if r.saver == nil {
		reply(done, nil)
		return
	}
	r.rosterSeq++
	a := store.Assignments{Roster: roster, Seq: r.rosterSeq}
	r.save(done, func(ctx context.Context) error {
		return r.saver.SaveAssignments(ctx, r.id, a)
	}, zap.Int("players", len(roster.Players)), zap.Int64("roster_seq", a.Seq))
}

// save runs fn in the background and reports the result on done, if set.
// Failures are logged and never retried; the reader keeps going either way.
func (r *Room) save(done chan<- error, fn func(ctx context.Context) error, fields ...zap.Field) {
	r.saves.Add(1)
	go func() {
		defer r.saves.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.saveTimeout)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrStaleProgress), errors.Is(err, store.ErrStaleAssignments):
			r.log.Debug("discarded stale write", append(fields, zap.Error(err))...)
		default:
			r.log.Warn("failed to persist session", append(fields, zap.Error(err))...)
		}
		reply(done, err)
	}()
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		Version:      r.version,
		State:        r.state,
		BubbleCount:  r.doc.BubbleCount(),
		Players:      r.playerNames(),
		Seats:        r.table.Seats(),
		AICharacters: r.table.Unassigned(r.doc.Characters),
	}
	bubbles, _ := r.doc.BubblesAt(r.state.Cursor.Page, r.state.Cursor.Panel)
	snap.PanelBubbles = len(bubbles)
	if b, ok := engine.CurrentBubble(r.doc, r.state.Cursor); ok {
		turn := engine.ClassifyTurn(r.table, b)
		snap.Bubble = &b
		snap.Turn = &turn
	}
	return snap
}

func (r *Room) playerNames() []string {
	names := make([]string, r.table.PlayerCount())
	for i := range names {
		names[i], _ = r.table.PlayerName(casting.Slot(i))
	}
	return names
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
	r.saves.Wait()
}

func (r *Room) broadcast(snap Snapshot) {
	for id, ch := range r.clients {
		select {
		case ch <- snap:
		default:
			// Slow reader, drop them.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
