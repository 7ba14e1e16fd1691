package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/engine"
	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/room"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
	"github.com/DoyleJ11/comic-readalong-backend/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	replyTimeout = 3 * time.Second
	joinAttempts = 3
)

// Readers sit on a page for a while, so sockets stay open as long as they
// answer pings.
var (
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second
)

var errUnknownType = errors.New("unknown type")

// Sessions checks who may read a session and loads it into a room.
type Sessions interface {
	Get(ctx context.Context, userID, id string) (*model.Session, error)
	RoomConfig(ctx context.Context, id string) (room.Config, error)
}

// Handler joins the caller to a session's room. Only the session's owner,
// as named by userOf, may join.
func Handler(h *hub.Hub, sessions Sessions, userOf func(context.Context) string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		if _, err := sessions.Get(r.Context(), userOf(r.Context()), sessionID); err != nil {
			writeJoinError(w, log, sessionID, err)
			return
		}
		clientID := uuid.NewString()

		rm, out, first, err := join(r.Context(), h, sessionID, clientID, sessions.RoomConfig)
		if err != nil {
			writeJoinError(w, log, sessionID, err)
			return
		}
		defer leave(rm, clientID)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		log := log.With(zap.String("session_id", sessionID), zap.String("client_id", clientID))
		log.Debug("reader joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			writeJSON(writeCtx, conn, stateMessage(first))
			for {
				select {
				case snap, ok := <-out:
					if !ok {
						// The room stopped or dropped us for being too slow.
						conn.Close(websocket.StatusGoingAway, "session closed")
						return
					}
					writeJSON(writeCtx, conn, stateMessage(snap))
				case <-writeCtx.Done():
					return
				}
			}
		}()
		go keepAlive(writeCtx, conn, log)

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("reader gone", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeJSON(r.Context(), conn, errorMessage("bad json"))
				continue
			}

			if err := forward(r.Context(), rm, cm); err != nil {
				writeJSON(r.Context(), conn, errorMessage(err.Error()))
			}
		}
	}
}

func writeJoinError(w http.ResponseWriter, log *zap.Logger, sessionID string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, comic.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "access denied", http.StatusForbidden)
	default:
		log.Error("joining room", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "failed to open session", http.StatusInternalServerError)
	}
}

// keepAlive pings the reader until ctx ends. A reader that stops answering
// is cut off, which ends the read loop.
func keepAlive(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	interval, timeout := pingInterval, pingTimeout
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug("reader stopped answering pings", zap.Error(err))
					_ = conn.CloseNow()
				}
				return
			}
		}
	}
}

// join registers the client with the session's live room and returns its
// outbox with the first snapshot. A room that stops while we join is replaced.
func join(ctx context.Context, h *hub.Hub, sessionID, clientID string, load func(context.Context, string) (room.Config, error)) (*room.Room, chan room.Snapshot, room.Snapshot, error) {
	loader := func(ctx context.Context) (room.Config, error) { return load(ctx, sessionID) }
	for attempt := 0; attempt < joinAttempts; attempt++ {
		rm, err := h.Ensure(ctx, sessionID, loader)
		if err != nil {
			return nil, nil, room.Snapshot{}, err
		}
		// a fresh outbox each time: a stopping room closes the old one
		out := make(chan room.Snapshot, 8)
		select {
		case rm.Inbox() <- room.Join{ClientID: clientID, Outbox: out}:
		case <-rm.Done():
			continue
		case <-ctx.Done():
			return nil, nil, room.Snapshot{}, ctx.Err()
		}
		select {
		case snap, ok := <-out:
			if ok {
				return rm, out, snap, nil
			}
		case <-rm.Done():
		case <-ctx.Done():
			return nil, nil, room.Snapshot{}, ctx.Err()
		}
	}
	return nil, nil, room.Snapshot{}, fmt.Errorf("session %s kept closing", sessionID)
}

func leave(rm *room.Room, clientID string) {
	select {
	case rm.Inbox() <- room.Leave{ClientID: clientID}:
	case <-rm.Done():
	}
}

// forward hands a client message to the room and waits for the verdict.
func forward(ctx context.Context, rm *room.Room, cm types.ClientMessage) error {
	reply := make(chan error, 1)
	msg, err := toRoomMsg(cm, reply)
	if err != nil {
		return err
	}

	select {
	case rm.Inbox() <- msg:
	case <-rm.Done():
		return errors.New("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-rm.Done():
		return errors.New("session closed")
	case <-time.After(replyTimeout):
		return errors.New("session busy")
	}
}

func toRoomMsg(m types.ClientMessage, reply chan<- error) (room.Msg, error) {
	switch m.Type {
	case "NextBubble", "PrevBubble", "NextPanel", "PrevPanel", "NextPage", "PrevPage", "Replay":
		return room.FromClient{Cmd: engine.Command{Type: engine.CommandType(m.Type)}, Reply: reply}, nil
	case "Assign":
		if m.Slot == nil {
			return nil, errors.New("assign needs a slot")
		}
		return room.Assign{Character: m.Character, Slot: casting.Slot(*m.Slot), Reply: reply}, nil
	case "Unassign":
		return room.Unassign{Character: m.Character, Reply: reply}, nil
	case "RenamePlayer":
		if m.Slot == nil {
			return nil, errors.New("rename needs a slot")
		}
		return room.RenamePlayer{Slot: casting.Slot(*m.Slot), Name: m.Name, Reply: reply}, nil
	case "SetPlayerCount":
		return room.SetPlayerCount{Count: m.Count, Reply: reply}, nil
	default:
		return nil, errUnknownType
	}
}

func stateMessage(snap room.Snapshot) types.ServerMessage {
	return types.ServerMessage{
		Type:    "StateSnapshot",
		Version: snap.Version,
		State: &types.ReadingState{
			Phase:        snap.State.Phase,
			Cursor:       snap.State.Cursor,
			Bubble:       snap.Bubble,
			Turn:         snap.Turn,
			PanelBubbles: snap.PanelBubbles,
			BubbleCount:  snap.BubbleCount,
			Players:      snap.Players,
			Seats:        snap.Seats,
			AICharacters: snap.AICharacters,
		},
	}
}

func errorMessage(msg string) types.ServerMessage {
	return types.ServerMessage{Type: "Error", Error: msg}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
