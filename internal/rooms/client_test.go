package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/stretchr/testify/require"
)

func relayStub(t *testing.T, status int, body any) (*httptest.Server, chan string) {
	t.Helper()
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.RoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func TestRegisterStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
		ticket  string
	}{
		{name: "created", status: http.StatusCreated, body: wire.RoomAdmission{Ticket: "t1"}, ticket: "t1"},
		{name: "ok", status: http.StatusOK, body: wire.RoomAdmission{Ticket: "t2"}, ticket: "t2"},
		{name: "ok without ticket", status: http.StatusOK, body: map[string]string{"message": "Room joined"}},
		{name: "unauthorized", status: http.StatusUnauthorized, body: wire.ErrorResponse{Error: "Invalid password"}, wantErr: ErrInvalidPassword},
		{name: "not found", status: http.StatusNotFound, body: wire.ErrorResponse{Error: "Room not found"}, wantErr: ErrRoomNotFound},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, paths := relayStub(t, tc.status, tc.body)
			c := NewClient(srv.URL + "/")
			defer c.Close()

			adm, err := c.Register(context.Background(), "team-x", "hunter2")
			require.Equal(t, "/create-room", <-paths)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.ticket, adm.Ticket)
		})
	}
}

func TestRegisterOtherStatus(t *testing.T) {
	t.Parallel()

	srv, _ := relayStub(t, http.StatusInternalServerError, wire.ErrorResponse{Error: "Error creating room"})
	c := NewClient(srv.URL)
	defer c.Close()

	_, err := c.Register(context.Background(), "team-x", "hunter2")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.Code)
	require.Equal(t, "Error creating room", se.Message)
}

func TestJoinOnlyUsesJoinEndpoint(t *testing.T) {
	t.Parallel()

	srv, paths := relayStub(t, http.StatusNotFound, wire.ErrorResponse{Error: "Room not found"})
	c := NewClient(srv.URL, WithJoinOnly())
	defer c.Close()

	_, err := c.Register(context.Background(), "team-x", "hunter2")
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Equal(t, "/join-room", <-paths)
}

func TestRegisterUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url)
	defer c.Close()
	_, err := c.Register(context.Background(), "team-x", "hunter2")
	require.ErrorContains(t, err, "register room")
}
