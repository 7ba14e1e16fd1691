package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/engine"
	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/room"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
)

type fakeSessions struct{ owner string }

func (f fakeSessions) Get(_ context.Context, userID, id string) (*model.Session, error) {
	if id != "sess-1" {
		return nil, service.ErrNotFound
	}
	if userID != f.owner {
		return nil, service.ErrForbidden
	}
	return &model.Session{ID: id, UserID: f.owner}, nil
}

func (f fakeSessions) RoomConfig(_ context.Context, id string) (room.Config, error) {
	doc := &comic.Document{
		Characters: []string{"A"},
		Pages: []comic.Page{{PageNumber: 1, Panels: []comic.Panel{{Order: 1, Bubbles: []comic.Bubble{
			{ID: "1", Text: "hi", Order: 1, Character: "A", Kind: comic.KindSpeech},
		}}}}},
	}
	table, _ := casting.NewTable(1)
	return room.Config{SessionID: id, Doc: doc, Table: table, Cursor: engine.Start}, nil
}

func newServer(t *testing.T, user string) (*httptest.Server, *hub.Hub) {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := hub.NewHub(context.Background(), hub.Options{Logger: log})
	userOf := func(context.Context) string { return user }
	srv := httptest.NewServer(Handler(h, fakeSessions{owner: "owner"}, userOf, log))
	t.Cleanup(func() {
		srv.Close()
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Stopped()
	})
	return srv, h
}

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=sess-1"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func numClients(t *testing.T, h *hub.Hub) int {
	t.Helper()
	ctx := context.Background()
	rm := h.Get(ctx, "sess-1")
	if rm == nil {
		return 0
	}
	reply := make(chan room.View, 1)
	select {
	case rm.Inbox() <- room.GetState{Reply: reply}:
	case <-rm.Done():
		return 0
	}
	select {
	case v := <-reply:
		return v.NumClients
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room state")
		return 0
	}
}

func TestHandler_RejectsNonOwner(t *testing.T) {
	srv, h := newServer(t, "intruder")

	res, err := http.Get(srv.URL + "/?session=sess-1")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Nil(t, h.Get(context.Background(), "sess-1"), "a rejected join must not open a room")

	res, err = http.Get(srv.URL + "/?session=other")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHandler_PingsKeepIdleReadersAndDropDeadOnes(t *testing.T) {
	oldInterval, oldTimeout := pingInterval, pingTimeout
	pingInterval, pingTimeout = 20*time.Millisecond, 50*time.Millisecond
	t.Cleanup(func() { pingInterval, pingTimeout = oldInterval, oldTimeout })

	srv, h := newServer(t, "owner")

	// alive answers pings because it keeps reading; dead never reads again
	alive := dialSession(t, srv)
	go func() {
		for {
			if _, _, err := alive.Read(context.Background()); err != nil {
				return
			}
		}
	}()
	_ = dialSession(t, srv)

	require.Eventually(t, func() bool { return numClients(t, h) == 1 }, 2*time.Second, 10*time.Millisecond,
		"the reader that stopped answering pings should be dropped")

	// many ping intervals later the idle but live reader is still there
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, numClients(t, h))
}
