package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prayerd/internal/prayer"
)

// StatusCmd returns the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's prayer times and acknowledgment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient().status()
			if err != nil {
				return err
			}

			if st.Date.Gregorian.Date != "" {
				fmt.Printf("%s  (%s %s %s AH)\n\n",
					st.Date.Gregorian.Date,
					st.Date.Hijri.Day, st.Date.Hijri.Month, st.Date.Hijri.Year)
			}

			acked := color.New(color.FgGreen)
			pending := color.New(color.FgYellow)
			for _, ev := range prayer.Order {
				t, ok := st.Times[ev]
				if !ok {
					fmt.Printf("  %-8s --:--\n", ev)
					continue
				}
				mark := " "
				c := pending
				if st.Ledger[ev] {
					mark = "✓"
					c = acked
				}
				c.Printf("  %-8s %-12s %s\n", ev, t, mark)
			}

			fmt.Println()
			if st.Locked {
				color.New(color.FgRed, color.Bold).Printf("LOCKED: %s unacknowledged\n", st.Active)
			} else if st.NextEvent != "" {
				fmt.Printf("Next: %s at %s\n", st.NextEvent, st.NextAt.Format("15:04"))
			} else {
				fmt.Println("No more prayers today.")
			}
			if !st.LastUpdated.IsZero() {
				fmt.Printf("Last updated: %s\n", st.LastUpdated.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
