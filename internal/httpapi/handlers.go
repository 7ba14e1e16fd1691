package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/room"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

const (
	maxBodyBytes = 8 << 20
	// room writes reply after their save, so allow for the store's timeout
	askTimeout  = 10 * time.Second
	askAttempts = 3
)

var (
	errBadRequest  = errors.New("bad request")
	errRoomClosed  = errors.New("session closed")
	errSessionBusy = errors.New("session busy")
)

type errorBody struct {
	Error string `json:"error"`
}

type comicBody struct {
	Comic   *model.Comic `json:"comic"`
	Message string       `json:"message,omitempty"`
}

type comicsBody struct {
	Comics []model.Comic `json:"comics"`
}

type sessionBody struct {
	Session *model.Session `json:"session"`
	Message string         `json:"message,omitempty"`
}

type sessionsBody struct {
	Sessions []model.Session `json:"sessions"`
}

type createComicRequest struct {
	Title    string         `json:"title"`
	Metadata comic.Document `json:"metadata"`
}

type createSessionRequest struct {
	ComicID              string         `json:"comic_id"`
	CharacterAssignments casting.Roster `json:"character_assignments"`
}

type progressRequest struct {
	CurrentPage  int `json:"current_page"`
	CurrentPanel int `json:"current_panel"`
}

type charactersRequest struct {
	CharacterAssignments casting.Roster `json:"character_assignments"`
}

func CreateComic(comics *service.ComicService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createComicRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		c, err := comics.Import(r.Context(), userFrom(r.Context()), req.Title, req.Metadata)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, comicBody{Comic: c, Message: "comic imported"})
	}
}

func ListComics(comics *service.ComicService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := comics.List(r.Context(), userFrom(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, comicsBody{Comics: list})
	}
}

func GetComic(comics *service.ComicService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := comics.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, comicBody{Comic: c})
	}
}

func CreateSession(sessions *service.SessionService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		if req.ComicID == "" {
			writeError(w, log, fmt.Errorf("%w: comic_id is required", errBadRequest))
			return
		}
		sess, err := sessions.Create(r.Context(), userFrom(r.Context()), req.ComicID, req.CharacterAssignments)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionBody{Session: sess, Message: "session created"})
	}
}

func ListSessions(sessions *service.SessionService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := sessions.List(r.Context(), userFrom(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionsBody{Sessions: list})
	}
}

func GetSession(sessions *service.SessionService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessions.Get(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionBody{Session: sess})
	}
}

// UpdateProgress moves a session. The move goes through the session's room,
// opened if needed, so the room stays the only writer of its position.
func UpdateProgress(sessions *service.SessionService, h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req progressRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		ctx, id, user := r.Context(), chi.URLParam(r, "id"), userFrom(r.Context())

		if _, err := sessions.Get(ctx, user, id); err != nil {
			writeError(w, log, err)
			return
		}
		err := inRoom(ctx, h, sessions, id, func(reply chan<- error) room.Msg {
			return room.Seek{Page: req.CurrentPage, Panel: req.CurrentPanel, Reply: reply}
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		sess, err := sessions.Get(ctx, user, id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionBody{Session: sess})
	}
}

// UpdateCharacters replaces a session's roster through its room.
func UpdateCharacters(sessions *service.SessionService, h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req charactersRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		ctx, id, user := r.Context(), chi.URLParam(r, "id"), userFrom(r.Context())

		sess, err := sessions.Get(ctx, user, id)
		if err != nil {
			writeError(w, log, err)
			return
		}
		roster, err := sessions.NormalizeRoster(ctx, sess, req.CharacterAssignments)
		if err != nil {
			writeError(w, log, err)
			return
		}
		err = inRoom(ctx, h, sessions, id, func(reply chan<- error) room.Msg {
			return room.Reseat{Roster: roster, Reply: reply}
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		if sess, err = sessions.Get(ctx, user, id); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionBody{Session: sess})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// inRoom hands a message to the session's room, opening the room if none
// is live. A room that stops underneath us is replaced.
func inRoom(ctx context.Context, h *hub.Hub, sessions *service.SessionService, id string, build func(reply chan<- error) room.Msg) error {
	load := func(ctx context.Context) (room.Config, error) { return sessions.RoomConfig(ctx, id) }
	for attempt := 0; attempt < askAttempts; attempt++ {
		rm, err := h.Ensure(ctx, id, load)
		if err != nil {
			return err
		}
		if err := ask(ctx, rm, build); !errors.Is(err, errRoomClosed) {
			return err
		}
	}
	return errRoomClosed
}

func ask(ctx context.Context, rm *room.Room, build func(reply chan<- error) room.Msg) error {
	reply := make(chan error, 1)
	select {
	case rm.Inbox() <- build(reply):
	case <-rm.Done():
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-rm.Done():
		// a room flushes its saves before Done, so a reply may be waiting
		select {
		case err := <-reply:
			return err
		default:
			return errRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(askTimeout):
		return errSessionBusy
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, comic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrStaleProgress), errors.Is(err, store.ErrStaleAssignments):
		return http.StatusConflict
	case errors.Is(err, errRoomClosed), errors.Is(err, errSessionBusy), errors.Is(err, hub.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, casting.ErrNoHumanPlayers), errors.Is(err, comic.ErrUnknownCharacter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, comic.ErrInvalidDocument),
		errors.Is(err, comic.ErrEmptyDocument),
		errors.Is(err, casting.ErrSlotOutOfRange),
		errors.Is(err, casting.ErrInvalidPlayerCount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
