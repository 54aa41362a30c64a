package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"prayerd/internal/prayer"
)

// RefreshCmd returns the refresh command.
func RefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch today's prayer times from the upstream source",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient().refresh()
			if err != nil {
				return err
			}
			fmt.Println("Prayer times updated:")
			for _, ev := range prayer.Order {
				if t, ok := st.Times[ev]; ok {
					fmt.Printf("  %-8s %s\n", ev, t)
				}
			}
			return nil
		},
	}
}
