package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/spf13/cobra"

	"prayerd/internal/hub"
)

// WatchCmd returns the watch command: a terminal surface that follows
// lock and unlock broadcasts from the daemon.
func WatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow lock/unlock broadcasts as a connected surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := strings.Replace(strings.TrimRight(Addr, "/"), "http", "ws", 1) + "/ws"

			conn, br, _, err := ws.Dial(context.Background(), wsURL)
			if err != nil {
				return fmt.Errorf("connect %s: %w", wsURL, err)
			}
			defer conn.Close()

			// The handshake may have buffered server bytes past the
			// HTTP response; keep reading them first.
			var rw io.ReadWriter = conn
			if br != nil {
				rw = struct {
					io.Reader
					io.Writer
				}{io.MultiReader(br, conn), conn}
			}

			// Reconcile on join like any other surface.
			query, _ := json.Marshal(hub.Message{Type: hub.TypeQueryLockStatus})
			if err := wsutil.WriteClientMessage(conn, ws.OpText, query); err != nil {
				return err
			}

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", wsURL)
			for {
				data, err := wsutil.ReadServerText(rw)
				if err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				var msg hub.Message
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				switch msg.Type {
				case hub.TypeLock:
					color.New(color.FgRed, color.Bold).Printf("LOCK %s: prayer unacknowledged\n", msg.Event)
				case hub.TypeUnlock:
					color.New(color.FgGreen).Println("UNLOCK")
				case hub.TypeLockStatus:
					if msg.Locked != nil && *msg.Locked {
						color.New(color.FgRed, color.Bold).Printf("LOCK %s (reconciled on join)\n", msg.Event)
					} else {
						fmt.Println("Not locked.")
					}
				}
			}
		},
	}
}
