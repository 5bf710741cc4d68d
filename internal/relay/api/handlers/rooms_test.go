package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/relay/database"
	"github.com/nthnn/oniontalk/internal/relay/metrics"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memStore struct {
	mu     sync.Mutex
	rooms  map[string]string
	broken bool

	// vanishing makes that many inserts report ErrRoomExists without
	// storing anything, as if a rival's room was reaped right away.
	vanishing int
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]string)}
}

func (s *memStore) RoomPasswordHash(_ context.Context, room string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return "", errors.New("disk on fire")
	}
	hash, ok := s.rooms[room]
	if !ok {
		return "", database.ErrRoomNotFound
	}
	return hash, nil
}

func (s *memStore) CreateRoom(_ context.Context, room, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.vanishing > 0 {
		s.vanishing--
		return database.ErrRoomExists
	}
	if _, ok := s.rooms[room]; ok {
		return database.ErrRoomExists
	}
	s.rooms[room] = hash
	return nil
}

type stubIssuer struct{}

func (stubIssuer) Issue(room string) (string, error) { return "ticket-for-" + room, nil }

func newRouter(store RoomStore) *gin.Engine {
	h := NewRoomHandler(store, stubIssuer{},
		WithBcryptCost(bcrypt.MinCost), WithRoomMetrics(metrics.New()))
	r := gin.New()
	r.POST("/create-room", h.CreateRoom)
	r.POST("/join-room", h.JoinRoom)
	return r
}

func post(t *testing.T, r http.Handler, path string, body any) (int, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestCreateRoomFlow(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	r := newRouter(store)
	req := wire.RoomRequest{Name: "team", Password: "hunter2"}

	code, body := post(t, r, "/create-room", req)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "ticket-for-team", body["ticket"])

	stored := store.rooms["team"]
	require.NotContains(t, stored, "hunter2")
	require.True(t, strings.HasPrefix(stored, "$2"))

	code, body = post(t, r, "/create-room", req)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ticket-for-team", body["ticket"])

	code, body = post(t, r, "/create-room", wire.RoomRequest{Name: "team", Password: "nope"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Empty(t, body["ticket"])
	require.Equal(t, "Invalid password", body["error"])
}

func TestJoinRoomFlow(t *testing.T) {
	t.Parallel()

	r := newRouter(newMemStore())

	code, body := post(t, r, "/join-room", wire.RoomRequest{Name: "team", Password: "hunter2"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "Room not found", body["error"])

	code, _ = post(t, r, "/create-room", wire.RoomRequest{Name: "team", Password: "hunter2"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = post(t, r, "/join-room", wire.RoomRequest{Name: "team", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, body = post(t, r, "/join-room", wire.RoomRequest{Name: "team", Password: "hunter2"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ticket-for-team", body["ticket"])
}

func TestLongPasswordsAreDistinguished(t *testing.T) {
	t.Parallel()

	r := newRouter(newMemStore())
	long := strings.Repeat("x", 100)

	code, _ := post(t, r, "/create-room", wire.RoomRequest{Name: "team", Password: long + "a"})
	require.Equal(t, http.StatusCreated, code)

	// Same first 72 bytes, different tail.
	code, _ = post(t, r, "/join-room", wire.RoomRequest{Name: "team", Password: long + "b"})
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestRoomRequestValidation(t *testing.T) {
	t.Parallel()

	r := newRouter(newMemStore())
	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "not json", body: "{", want: "Invalid request body"},
		{name: "empty name", body: wire.RoomRequest{Password: "pw"}, want: "Invalid room name"},
		{name: "bad chars", body: wire.RoomRequest{Name: "a room", Password: "pw"}, want: "Invalid room name"},
		{name: "too long", body: wire.RoomRequest{Name: strings.Repeat("a", wire.MaxNameLength+1), Password: "pw"}, want: "Invalid room name"},
		{name: "no password", body: wire.RoomRequest{Name: "team"}, want: "Password is required"},
	}
	for _, tc := range tests {
		for _, path := range []string{"/create-room", "/join-room"} {
			code, body := post(t, r, path, tc.body)
			require.Equal(t, http.StatusBadRequest, code, "%s %s", tc.name, path)
			require.Equal(t, tc.want, body["error"], "%s %s", tc.name, path)
		}
	}
}

func TestStoreFailureIsInternalError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.broken = true
	r := newRouter(store)

	code, body := post(t, r, "/join-room", wire.RoomRequest{Name: "team", Password: "pw"})
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "Internal server error", body["error"])
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type rooms int

func (r rooms) Rooms() int { return int(r) }

func TestHealth(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{errors.New("gone"), http.StatusServiceUnavailable},
	} {
		r := gin.New()
		r.GET("/healthz", NewHealthHandler(pinger{tc.err}, rooms(3)).Health)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, tc.code, w.Code)
	}
}

func TestCreateRoomRetriesWhenRivalRoomIsReaped(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.vanishing = 1
	r := newRouter(store)

	code, body := post(t, r, "/create-room", map[string]string{"name": "team", "password": "pw"})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "ticket-for-team", body["ticket"])
	require.Equal(t, 2, store.inserts)
	require.Contains(t, store.rooms, "team")
}

func TestCreateRoomConflictsWhileRoomKeepsVanishing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.vanishing = 10
	r := newRouter(store)

	code, body := post(t, r, "/create-room", map[string]string{"name": "team", "password": "pw"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Room is being recreated, try again", body["error"])
	require.Equal(t, createAttempts, store.inserts)
}
