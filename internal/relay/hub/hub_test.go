package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nthnn/oniontalk/internal/crypto"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/relay/tickets"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type chanReaper chan string

func (r chanReaper) DeleteRoom(_ context.Context, room string) error {
	r <- room
	return nil
}

func newRelay(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	h := New(opts...)
	router := gin.New()
	router.GET("/ws", h.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Close(ctx)
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, ticket string) *websocket.Conn {
	t.Helper()
	if ticket != "" {
		url += "?ticket=" + ticket
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env wire.Envelope) {
	t.Helper()
	frame, err := wire.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func receive(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, ok, err := wire.Decode(raw)
	require.NoError(t, err)
	require.True(t, ok)
	return env
}

func message(username, room string, payload byte) wire.Envelope {
	return wire.Message(username, room, crypto.Ciphertext{
		Bytes: []byte{payload, payload, payload},
		Nonce: make([]byte, crypto.NonceSize),
	})
}

func TestRelayFansOutToEveryMember(t *testing.T) {
	t.Parallel()

	h, url := newRelay(t)
	alice := dial(t, url, "")
	bob := dial(t, url, "")

	send(t, alice, wire.Join("<alice>#100000", "team"))
	send(t, bob, wire.Join("bob#200000", "team"))
	require.Eventually(t, func() bool { return h.Members("team") == 2 },
		5*time.Second, 10*time.Millisecond)

	// The claimed username is replaced by the one the connection joined with.
	send(t, alice, message("mallory", "team", 7))

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := receive(t, conn)
		require.Equal(t, wire.KindMessage, env.Type)
		require.Equal(t, "&lt;alice&gt;#100000", env.Username)
		require.Equal(t, "team", env.Room)
		ct, ok := env.Ciphertext()
		require.True(t, ok)
		require.Equal(t, []byte{7, 7, 7}, ct.Bytes)
	}

	send(t, bob, wire.Typing("bob#200000", "team"))
	env := receive(t, alice)
	require.Equal(t, wire.KindTyping, env.Type)
	require.Equal(t, "bob#200000", env.Username)
}

func TestRelayDropsFramesOutsideJoinedRoom(t *testing.T) {
	t.Parallel()

	h, url := newRelay(t)
	alice := dial(t, url, "")
	bob := dial(t, url, "")

	send(t, bob, wire.Join("bob", "team"))
	require.Eventually(t, func() bool { return h.Members("team") == 1 },
		5*time.Second, 10*time.Millisecond)

	send(t, alice, message("alice", "team", 1))
	send(t, alice, wire.Join("alice", "team"))
	send(t, alice, message("alice", "other", 2))
	send(t, alice, wire.Join("alice", "other"))
	send(t, alice, message("alice", "team", 3))

	env := receive(t, bob)
	ct, ok := env.Ciphertext()
	require.True(t, ok)
	require.Equal(t, []byte{3, 3, 3}, ct.Bytes)
	require.Equal(t, 0, h.Members("other"))
}

func TestUpgradeRequiresTicket(t *testing.T) {
	t.Parallel()

	issuer, err := tickets.NewIssuer("secret", time.Minute)
	require.NoError(t, err)
	_, url := newRelay(t, WithTickets(issuer))

	for _, ticket := range []string{"", "not-a-jwt"} {
		target := url
		if ticket != "" {
			target += "?ticket=" + ticket
		}
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestJoinMustNameTicketRoom(t *testing.T) {
	t.Parallel()

	issuer, err := tickets.NewIssuer("secret", time.Minute)
	require.NoError(t, err)
	h, url := newRelay(t, WithTickets(issuer))

	ticket, err := issuer.Issue("team")
	require.NoError(t, err)
	conn := dial(t, url, ticket)

	send(t, conn, wire.Join("alice", "elsewhere"))
	send(t, conn, wire.Join("alice", "team"))
	require.Eventually(t, func() bool { return h.Members("team") == 1 },
		5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, h.Members("elsewhere"))
	require.Equal(t, 1, h.Rooms())
}

func TestLastMemberLeavingDeletesRoom(t *testing.T) {
	t.Parallel()

	reaped := make(chanReaper, 4)
	h, url := newRelay(t, WithReaper(reaped))
	alice := dial(t, url, "")
	bob := dial(t, url, "")

	send(t, alice, wire.Join("alice", "team"))
	send(t, bob, wire.Join("bob", "team"))
	require.Eventually(t, func() bool { return h.Members("team") == 2 },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return h.Members("team") == 1 },
		5*time.Second, 10*time.Millisecond)
	require.Empty(t, reaped)

	require.NoError(t, bob.Close())
	select {
	case room := <-reaped:
		require.Equal(t, "team", room)
	case <-time.After(5 * time.Second):
		t.Fatal("room was not deleted")
	}
	require.Equal(t, 0, h.Rooms())
}

func TestCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	h, url := newRelay(t)
	conn := dial(t, url, "")
	send(t, conn, wire.Join("alice", "team"))
	require.Eventually(t, func() bool { return h.Members("team") == 1 },
		5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Equal(t, 0, h.Rooms())
}
