package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nthnn/oniontalk/internal/config"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/rooms"
	"github.com/nthnn/oniontalk/internal/session"
	"github.com/nthnn/oniontalk/internal/typing"
	"github.com/nthnn/oniontalk/internal/websocket"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const (
	quitCommand = "/quit"
	pendingHint = "* message not sent yet; end a line without \\ to send it"
)

type chatOptions struct {
	room     string
	username string
	password string
	invite   string
	joinOnly bool
}

func chatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat",
		Long: `Join a room and chat.

Each input line is sent as one message. End a line with \ to continue the
message on the next line. Type /quit or press Ctrl-D to leave.

An invite link from "oniontalk invite" may stand in for --room and --relay.
Flags given explicitly take precedence over the link.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.invite != "" {
				if err := applyInvite(cmd, cfg, &opts); err != nil {
					return err
				}
			}
			if opts.room == "" {
				return errors.New("a room is required (--room or --invite)")
			}
			if !wire.ValidName(opts.room) {
				return fmt.Errorf("invalid room name %q", opts.room)
			}
			if !wire.ValidName(opts.username) {
				return fmt.Errorf("invalid username %q", opts.username)
			}
			if !cmd.Flags().Changed("join-only") {
				opts.joinOnly = !cfg.CreateRooms
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := bufio.NewReader(cmd.InOrStdin())
			if opts.password == "" {
				opts.password = cfg.Password
			}
			if opts.password == "" {
				pw, err := promptPassword(cmd.ErrOrStderr(), in)
				if err != nil {
					return err
				}
				opts.password = pw
			}
			return runChat(ctx, cfg, opts, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.room, "room", "r", "", "room to join")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "name shown to the room")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "room password (default $ONIONTALK_PASSWORD, else prompt)")
	cmd.Flags().StringVar(&opts.invite, "invite", "", "oniontalk://join link naming the relay and room")
	cmd.Flags().BoolVar(&opts.joinOnly, "join-only", false, "fail instead of creating a missing room")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// applyInvite fills the room and relay from opts.invite unless they were
// set explicitly.
func applyInvite(cmd *cobra.Command, c *config.Config, opts *chatOptions) error {
	relay, room, err := parseInvite(opts.invite)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("room") {
		opts.room = room
	}
	if !cmd.Flags().Changed("relay") {
		c.RelayURL = relay
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invite: %w", err)
		}
	}
	return nil
}

// promptPassword reads the password without echo when stdin is a terminal,
// otherwise from the first input line.
func promptPassword(prompt io.Writer, in *bufio.Reader) (string, error) {
	fmt.Fprint(prompt, "Room password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("a room password is required")
	}
	return pw, nil
}

func runChat(ctx context.Context, c *config.Config, opts chatOptions, in io.Reader, out, errOut io.Writer) error {
	var roomOpts []rooms.Option
	if opts.joinOnly {
		roomOpts = append(roomOpts, rooms.WithJoinOnly())
	}
	registrar := rooms.NewClient(c.RelayURL, roomOpts...)
	defer registrar.Close()

	dialer, err := newDialer(c)
	if err != nil {
		return err
	}

	sess := session.New(registrar, dialer)
	defer sess.Close()

	joinCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	err = sess.Join(joinCtx, session.Credential{Room: opts.room, Password: opts.password}, opts.username)
	cancel()
	if err != nil {
		return fmt.Errorf("join %s: %w", opts.room, err)
	}

	closed := make(chan error, 1)
	go func() { closed <- printEvents(out, sess.Events()) }()

	draft := &draftNotice{out: errOut}
	debouncer := typing.New(sess, typing.WithOnLapse(draft.lapsed))
	defer debouncer.Stop()

	lines := readLines(in)
	var comp composer
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if comp.Empty() && strings.TrimSpace(line) == quitCommand {
				return nil
			}
			msg, done := comp.Feed(line)
			draft.pending.Store(!done)
			if !done {
				if err := debouncer.NotifyLocalTyping(ctx); err != nil {
					logger.Debugf("Typing notification failed: %v", err)
				}
				continue
			}
			if err := sess.SendMessage(ctx, msg); err != nil {
				if errors.Is(err, session.ErrSessionClosed) {
					return err
				}
				fmt.Fprintf(errOut, "! send failed: %v\n", err)
			}
		}
	}
}

// draftNotice reminds the user of an unfinished continued message once input
// goes idle. lapsed runs on the debouncer's timer goroutine.
type draftNotice struct {
	out     io.Writer
	pending atomic.Bool
}

func (n *draftNotice) lapsed() {
	if n.pending.Load() {
		fmt.Fprintln(n.out, pendingHint)
	}
}

// newDialer maps the connection settings onto the websocket dialer.
func newDialer(c *config.Config) (*websocket.Dialer, error) {
	wsURL, err := c.WebSocketURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("User-Agent", "oniontalk/"+Version)
	return websocket.NewDialer(wsURL,
		websocket.WithHandshakeTimeout(c.DialTimeout),
		websocket.WithWriteTimeout(c.WriteTimeout),
		websocket.WithPingInterval(c.PingInterval),
		websocket.WithHeader(header),
	), nil
}

// readLines streams input lines until EOF or a read error.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		if err := sc.Err(); err != nil {
			logger.Debugf("Input closed: %v", err)
		}
	}()
	return lines
}

// printEvents renders events until the session closes and returns the
// close error, if any.
func printEvents(out io.Writer, events <-chan session.Event) error {
	var closeErr error
	for ev := range events {
		if closed, ok := ev.(session.EventClosed); ok {
			closeErr = closed.Err
		}
		if line, ok := formatEvent(ev); ok {
			fmt.Fprintln(out, line)
		}
	}
	if closeErr == nil {
		closeErr = errors.New("disconnected from relay")
	}
	return closeErr
}
