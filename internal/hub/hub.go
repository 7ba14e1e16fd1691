package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/room"
)

var ErrStopped = errors.New("hub stopped")

// Loader builds the room config for a session that has no live room yet.
type Loader func(ctx context.Context) (room.Config, error)

type HubMsg interface{ isHubMsg() }

type Result struct {
	Room *room.Room
	Err  error
}

type CreateRoom struct {
	SessionID string
	Config    room.Config
	Reply     chan *room.Room
}

type GetRoom struct {
	SessionID string
	Reply     chan *room.Room
}

// EnsureRoom returns the live room for a session, running Load only when it
// has to create one. Loads run off the hub goroutine; callers asking for a
// session that is already loading wait on the same load, so two rooms can
// never exist for one session.
type EnsureRoom struct {
	SessionID string
	Load      Loader
	Reply     chan Result
}

// RemoveRoom retires a room if nobody is reading in it.
type RemoveRoom struct {
	SessionID string
	Reply     chan bool
}

type ShutdownHub struct{}

// roomLoaded reports a finished load back to the hub goroutine.
type roomLoaded struct {
	sessionID string
	config    room.Config
	err       error
}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}
func (roomLoaded) isHubMsg()  {}

type Options struct {
	Logger      *zap.Logger
	LoadTimeout time.Duration
	// SweepEvery retires idle rooms on this interval. Zero disables it.
	SweepEvery time.Duration
}

type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	loading map[string][]chan Result
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		loading: make(map[string][]chan Result),
		opts:    opts,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Stopped is closed after every room has shut down.
func (h *Hub) Stopped() <-chan struct{} { return h.stopped }

func (h *Hub) loop() {
	defer close(h.stopped)

	var sweep <-chan time.Time
	if h.opts.SweepEvery > 0 {
		ticker := time.NewTicker(h.opts.SweepEvery)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownRooms()
			return

		case <-sweep:
			for id := range h.rooms {
				h.retire(id)
			}

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if rm := h.live(msg.SessionID); rm != nil {
					msg.Reply <- rm
					break
				}
				rm := room.NewRoom(h.ctx, msg.Config)
				h.rooms[msg.SessionID] = rm
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- h.live(msg.SessionID) // may be nil

			case EnsureRoom:
				if rm := h.live(msg.SessionID); rm != nil {
					msg.Reply <- Result{Room: rm}
					break
				}
				waiters, inFlight := h.loading[msg.SessionID]
				h.loading[msg.SessionID] = append(waiters, msg.Reply)
				if !inFlight {
					go h.load(msg.SessionID, msg.Load)
				}

			case roomLoaded:
				waiters := h.loading[msg.sessionID]
				delete(h.loading, msg.sessionID)
				res := Result{Err: msg.err}
				if rm := h.live(msg.sessionID); rm != nil {
					// a CreateRoom got there first
					res = Result{Room: rm}
				} else if msg.err == nil {
					res.Room = room.NewRoom(h.ctx, msg.config)
					h.rooms[msg.sessionID] = res.Room
					h.log.Info("room opened", zap.String("session_id", msg.sessionID))
				}
				for _, reply := range waiters {
					reply <- res
				}

			case RemoveRoom:
				msg.Reply <- h.retire(msg.SessionID)

			case ShutdownHub:
				h.shutdownRooms()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) load(id string, load Loader) {
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.LoadTimeout)
	cfg, err := load(ctx)
	cancel()
	select {
	case h.inbox <- roomLoaded{sessionID: id, config: cfg, err: err}:
	case <-h.ctx.Done():
	}
}

// live returns the session's room unless it has already stopped.
func (h *Hub) live(id string) *room.Room {
	rm := h.rooms[id]
	if rm == nil {
		return nil
	}
	select {
	case <-rm.Done():
		delete(h.rooms, id)
		return nil
	default:
		return rm
	}
}

func (h *Hub) retire(id string) bool {
	rm := h.live(id)
	if rm == nil {
		return true
	}
	reply := make(chan bool, 1)
	select {
	case rm.Inbox() <- room.Retire{Reply: reply}:
	case <-rm.Done():
	}
	var ok bool
	select {
	case ok = <-reply:
	case <-rm.Done():
		ok = true
	}
	if ok {
		delete(h.rooms, id)
		h.log.Info("room closed", zap.String("session_id", id))
	}
	return ok
}

func (h *Hub) shutdownRooms() {
	for _, rm := range h.rooms {
		select {
		case rm.Inbox() <- room.Shutdown{}:
		case <-rm.Done():
		}
	}
	for _, rm := range h.rooms {
		<-rm.Done()
	}
	clear(h.rooms)
}

// Ensure is EnsureRoom for callers that must not outlive ctx.
func (h *Hub) Ensure(ctx context.Context, sessionID string, load Loader) (*room.Room, error) {
	reply := make(chan Result, 1)
	if err := h.send(ctx, EnsureRoom{SessionID: sessionID, Load: load, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Room, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stopped:
		return nil, ErrStopped
	}
}

// Get returns the live room for a session, or nil.
func (h *Hub) Get(ctx context.Context, sessionID string) *room.Room {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{SessionID: sessionID, Reply: reply}); err != nil {
		return nil
	}
	select {
	case rm := <-reply:
		return rm
	case <-ctx.Done():
		return nil
	case <-h.stopped:
		return nil
	}
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrStopped
	}
}
