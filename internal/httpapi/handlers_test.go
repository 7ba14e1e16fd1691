package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store/sqlite"
	"github.com/DoyleJ11/comic-readalong-backend/internal/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	log := zap.NewNop()
	comics := service.NewComicService(st, time.Minute, log)
	sessions := service.NewSessionService(st, comics, time.Second, log)
	h := hub.NewHub(context.Background(), hub.Options{Logger: log})

	srv := httptest.NewServer(SetupRoutes(Deps{
		Comics:        comics,
		Sessions:      sessions,
		Hub:           h,
		Logger:        log,
		DefaultUserID: "local",
	}))
	t.Cleanup(func() {
		srv.Close()
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Stopped()
		_ = st.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, user string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, out.Bytes()
}

func line(id string, order int, character string) comic.Bubble {
	return comic.Bubble{ID: id, Text: id, Order: order, Character: character}
}

func testComic() createComicRequest {
	return createComicRequest{
		Title: "Lantern",
		Metadata: comic.Document{
			Title:      "Lantern",
			Characters: []string{"Ada", "Bex"},
			Pages: []comic.Page{
				{PageNumber: 1, Panels: []comic.Panel{
					{Order: 1, Bubbles: []comic.Bubble{line("1", 1, "Ada"), line("2", 2, "Bex")}},
					{Order: 2, Bubbles: []comic.Bubble{line("3", 1, "Ada")}},
				}},
				{PageNumber: 2, Panels: []comic.Panel{
					{Order: 1, Bubbles: []comic.Bubble{line("4", 1, "Bex")}},
				}},
			},
		},
	}
}

func importComic(t *testing.T, srv *httptest.Server) model.Comic {
	t.Helper()
	res, body := doJSON(t, http.MethodPost, srv.URL+"/comics", testComic(), "")
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var got struct {
		Comic   model.Comic `json:"comic"`
		Message string      `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.NotEmpty(t, got.Message)
	return got.Comic
}

func createSession(t *testing.T, srv *httptest.Server, comicID string) model.Session {
	t.Helper()
	res, body := doJSON(t, http.MethodPost, srv.URL+"/sessions", createSessionRequest{
		ComicID: comicID,
		CharacterAssignments: casting.Roster{Players: []casting.Assignment{
			{PlayerName: "Ana", Characters: []string{"Ada"}},
		}},
	}, "")
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	return decodeSession(t, body)
}

func decodeSession(t *testing.T, body []byte) model.Session {
	t.Helper()
	var got struct {
		Session model.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	return got.Session
}

func getSession(t *testing.T, srv *httptest.Server, id string) model.Session {
	t.Helper()
	res, body := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	return decodeSession(t, body)
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + sessionID
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestComicEndpoints(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "local", c.UserID)

	res, body := doJSON(t, http.MethodGet, srv.URL+"/comics/"+c.ID, nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got struct {
		Comic model.Comic `json:"comic"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, c.Metadata, got.Comic.Metadata)

	res, body = doJSON(t, http.MethodGet, srv.URL+"/comics", nil, "someone-else")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"comics": []}`, string(body))

	res, body = doJSON(t, http.MethodGet, srv.URL+"/comics", nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list struct {
		Comics []model.Comic `json:"comics"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Comics, 1)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/comics/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, http.MethodPost, srv.URL+"/comics", createComicRequest{Title: "empty"}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCreateSessionStatuses(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)

	cases := []struct {
		name string
		req  createSessionRequest
		want int
	}{
		{
			name: "nobody plays",
			req:  createSessionRequest{ComicID: c.ID, CharacterAssignments: casting.Roster{Players: []casting.Assignment{{PlayerName: "Ana"}}}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown comic",
			req:  createSessionRequest{ComicID: "nope", CharacterAssignments: casting.Roster{Players: []casting.Assignment{{Characters: []string{"Ada"}}}}},
			want: http.StatusNotFound,
		},
		{
			name: "missing comic id",
			req:  createSessionRequest{},
			want: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doJSON(t, http.MethodPost, srv.URL+"/sessions", tc.req, "")
			assert.Equal(t, tc.want, res.StatusCode, string(body))
		})
	}

	s := createSession(t, srv, c.ID)
	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, []string{"Bex"}, s.CharacterAssignments.AICharacters)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+s.ID, nil, "intruder")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body := doJSON(t, http.MethodGet, srv.URL+"/sessions", nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list struct {
		Sessions []model.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, s.ID, list.Sessions[0].ID)
}

func TestUpdateProgressWithoutRoom(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	res, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/progress", progressRequest{CurrentPage: 2, CurrentPanel: 1}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	got := decodeSession(t, body)
	assert.Equal(t, 2, got.CurrentPage)
	assert.Equal(t, int64(1), got.ProgressSeq)

	res, _ = doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/progress", progressRequest{CurrentPage: 5, CurrentPanel: 1}, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/progress", progressRequest{CurrentPage: 1, CurrentPanel: 1}, "intruder")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

// A REST move and later reader moves share one sequence, so neither is
// dropped as stale.
func TestProgressFromRESTThenReaders(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	res, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/progress", progressRequest{CurrentPage: 1, CurrentPanel: 2}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	conn := dial(t, srv, s.ID)
	first := readMessage(t, conn)
	assert.Equal(t, 2, first.State.Cursor.Panel, "the room must start where the REST move left it")

	writeMessage(t, conn, types.ClientMessage{Type: "NextPanel"})
	next := readMessage(t, conn)
	require.Equal(t, 2, next.State.Cursor.Page)

	require.Eventually(t, func() bool {
		got := getSession(t, srv, s.ID)
		return got.CurrentPage == 2 && got.ProgressSeq == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpdateCharacters(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	res, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/characters", charactersRequest{
		CharacterAssignments: casting.Roster{Players: []casting.Assignment{{PlayerName: "Ana", Characters: []string{"Ada", "Bex"}}}},
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	got := decodeSession(t, body)
	assert.Empty(t, got.CharacterAssignments.AICharacters)
	assert.Equal(t, int64(1), got.AssignmentsSeq)

	res, _ = doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/characters", charactersRequest{
		CharacterAssignments: casting.Roster{Players: []casting.Assignment{{Characters: []string{"Ghost"}}}},
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

// Reader recasts and REST roster updates go through the same room, so the
// store always ends up with the room's table.
func TestCharactersFromRESTAndReaders(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	conn := dial(t, srv, s.ID)
	_ = readMessage(t, conn)

	slot := 0
	writeMessage(t, conn, types.ClientMessage{Type: "Assign", Character: "Bex", Slot: &slot})
	recast := readMessage(t, conn)
	require.Empty(t, recast.State.AICharacters)

	res, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/characters", charactersRequest{
		CharacterAssignments: casting.Roster{Players: []casting.Assignment{{PlayerName: "Ana", Characters: []string{"Ada"}}}},
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	reseated := readMessage(t, conn)
	assert.Equal(t, []string{"Bex"}, reseated.State.AICharacters)

	got := decodeSession(t, body)
	assert.Equal(t, []string{"Bex"}, got.CharacterAssignments.AICharacters)
	assert.Equal(t, int64(2), got.AssignmentsSeq)
}

func readMessage(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, payload))
}

func TestWebSocketReading(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	conn := dial(t, srv, s.ID)

	first := readMessage(t, conn)
	require.Equal(t, "StateSnapshot", first.Type)
	require.NotNil(t, first.State.Turn)
	assert.True(t, first.State.Turn.IsPlayer)
	assert.Equal(t, "Ana", first.State.Turn.PlayerName)

	writeMessage(t, conn, types.ClientMessage{Type: "NextBubble"})
	next := readMessage(t, conn)
	assert.Equal(t, 1, next.Version)
	assert.Equal(t, 1, next.State.Cursor.Bubble)
	assert.False(t, next.State.Turn.IsPlayer)

	slot := 0
	writeMessage(t, conn, types.ClientMessage{Type: "Assign", Character: "Bex", Slot: &slot})
	recast := readMessage(t, conn)
	assert.True(t, recast.State.Turn.IsPlayer)
	assert.Empty(t, recast.State.AICharacters)

	// a REST move while the room is live goes through the room
	res, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+s.ID+"/progress", progressRequest{CurrentPage: 2, CurrentPanel: 1}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	moved := readMessage(t, conn)
	assert.Equal(t, 2, moved.State.Cursor.Page)
	assert.Equal(t, "end", string(moved.State.Phase))

	writeMessage(t, conn, types.ClientMessage{Type: "Jump"})
	bad := readMessage(t, conn)
	assert.Equal(t, "Error", bad.Type)
}

func TestWebSocketUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/ws?session=missing", nil, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/ws", nil, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWebSocketRejectsOtherUsers(t *testing.T) {
	srv := newTestServer(t)
	c := importComic(t, srv)
	s := createSession(t, srv, c.ID)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + s.ID
	header := http.Header{}
	header.Set(userHeader, "intruder")
	conn, res, err := websocket.Dial(context.Background(), wsURL, &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	if conn != nil {
		conn.CloseNow()
	}
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	// the owner's session is untouched
	got := getSession(t, srv, s.ID)
	assert.Equal(t, 1, got.CurrentPanel)
	assert.Equal(t, int64(0), got.ProgressSeq)
}

func TestRateLimit(t *testing.T) {
	h := SetupRoutes(Deps{
		Comics:        service.NewComicService(nil, time.Minute, nil),
		Sessions:      service.NewSessionService(nil, nil, time.Second, nil),
		Hub:           nil,
		DefaultUserID: "local",
		RateLimit:     1,
		RateBurst:     1,
	})

	// missing comic id is rejected before any store is touched
	send := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`))
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusBadRequest, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
