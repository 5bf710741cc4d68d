package commands

import (
	"errors"
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const (
	inviteScheme = "oniontalk"
	inviteHost   = "join"
)

func inviteCmd() *cobra.Command {
	var room string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Print an invite link and QR code for a room",
		Long: `Print an invite link and QR code for a room.

The invite names the relay and the room only. Share the password separately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := inviteURL(cfg.RelayURL, room)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !noQR {
				qr, err := qrcode.New(link, qrcode.Medium)
				if err != nil {
					logger.Warnf("Failed to generate QR code: %v", err)
				} else {
					fmt.Fprintln(out, qr.ToSmallString(false))
				}
			}
			fmt.Fprintln(out, link)
			return nil
		},
	}
	cmd.Flags().StringVarP(&room, "room", "r", "", "room to invite to")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "print the link only")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

// inviteURL builds oniontalk://join?relay=...&room=...
func inviteURL(relay, room string) (string, error) {
	if !wire.ValidName(room) {
		return "", fmt.Errorf("invalid room name %q", room)
	}
	q := url.Values{}
	q.Set("relay", relay)
	q.Set("room", room)
	u := url.URL{Scheme: inviteScheme, Host: inviteHost, RawQuery: q.Encode()}
	return u.String(), nil
}

// parseInvite is the inverse of inviteURL. The relay URL is returned as
// written; config validation decides whether it is usable.
func parseInvite(link string) (relay, room string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("parse invite: %w", err)
	}
	if u.Scheme != inviteScheme || u.Host != inviteHost {
		return "", "", fmt.Errorf("not an oniontalk invite: %q", link)
	}
	q := u.Query()
	relay, room = q.Get("relay"), q.Get("room")
	if relay == "" {
		return "", "", errors.New("invite names no relay")
	}
	if !wire.ValidName(room) {
		return "", "", fmt.Errorf("invite names an invalid room %q", room)
	}
	return relay, room, nil
}
