package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SetCmd returns the set command for runtime settings.
func SetCmd() *cobra.Command {
	var (
		location string
		method   int
		grace    int
		lock     string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change daemon settings (location, method, grace period, lock)",
		Example: `  prayerctl set --location "London, UK"
  prayerctl set --grace 10 --lock off`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			s, err := c.settings()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("location") {
				s.Location = location
			}
			if cmd.Flags().Changed("method") {
				s.Method = method
			}
			if cmd.Flags().Changed("grace") {
				s.GraceMinutes = grace
			}
			if cmd.Flags().Changed("lock") {
				switch lock {
				case "on":
					s.LockEnabled = true
				case "off":
					s.LockEnabled = false
				default:
					return fmt.Errorf("--lock must be on or off, got %q", lock)
				}
			}

			if err := c.updateSettings(s); err != nil {
				return err
			}
			fmt.Printf("Settings saved: location=%q method=%d grace=%dm lock=%v\n",
				s.Location, s.Method, s.GraceMinutes, s.LockEnabled)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", `location as "City, Country"`)
	cmd.Flags().IntVar(&method, "method", 0, "calculation method number (2 = ISNA)")
	cmd.Flags().IntVar(&grace, "grace", 0, "grace period in minutes")
	cmd.Flags().StringVar(&lock, "lock", "", "lock enforcement: on or off")

	return cmd
}
