package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomaslejdung/cowatch/pkg/client"
	"github.com/tomaslejdung/cowatch/pkg/relay"
)

// DefaultRelayURL is where ping looks for a relay started with defaults
const DefaultRelayURL = "ws://127.0.0.1:5757/ws"

func newPingCmd() *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check a running relay end to end",
		Long: `Opens two connections to the relay, creates a throwaway room with one,
joins it with the other and relays a chat message between them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			roomID, rtt, err := runPing(ctx, url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: room %s relayed in %s\n", roomID, rtt.Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", DefaultRelayURL, "Relay WebSocket URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Give up after this long")
	return cmd
}

// runPing walks one create/join/relay cycle and returns the room it used
// and how long the relayed message took
func runPing(ctx context.Context, url string) (string, time.Duration, error) {
	host, err := client.Dial(ctx, url)
	if err != nil {
		return "", 0, err
	}
	defer host.Close()

	guest, err := client.Dial(ctx, url)
	if err != nil {
		return "", 0, err
	}
	defer guest.Close()

	roomID := "ping-" + uuid.NewString()
	pin := relay.GeneratePIN()

	if err := host.Create(roomID, pin, "ping-host"); err != nil {
		return "", 0, err
	}
	if _, err := host.Expect(ctx, relay.TypeCreated); err != nil {
		return "", 0, fmt.Errorf("create: %w", err)
	}

	if err := guest.Join(roomID, pin, "ping-guest"); err != nil {
		return "", 0, err
	}
	if _, err := guest.Expect(ctx, relay.TypeJoined); err != nil {
		return "", 0, fmt.Errorf("join: %w", err)
	}
	if _, err := host.Expect(ctx, relay.TypePeerJoin); err != nil {
		return "", 0, fmt.Errorf("peer-join: %w", err)
	}

	start := time.Now()
	if err := host.Send(relay.Envelope{Type: "chat", Name: "ping-host", Message: "ping"}); err != nil {
		return "", 0, err
	}
	msg, err := guest.Expect(ctx, "chat")
	if err != nil {
		return "", 0, fmt.Errorf("relay: %w", err)
	}
	if msg.Message != "ping" {
		return "", 0, fmt.Errorf("relay: got message %q", msg.Message)
	}
	return roomID, time.Since(start), nil
}
