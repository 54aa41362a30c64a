package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prayerd/internal/prayer"
)

// AckCmd returns the ack command.
func AckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack [event]",
		Short: "Acknowledge a prayer (the active one when no event is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev prayer.Event
			if len(args) == 1 {
				ev = prayer.Event(args[0])
				if !ev.Valid() {
					return fmt.Errorf("unknown event %q (one of %v)", args[0], prayer.Order)
				}
			}

			out, err := newAPIClient().acknowledge(ev)
			if err != nil {
				return err
			}
			switch {
			case !out.Acknowledged:
				fmt.Println("Nothing to acknowledge.")
			case out.Already:
				fmt.Printf("%s was already acknowledged.\n", out.Event)
			case out.Unlocked:
				color.New(color.FgGreen).Printf("%s acknowledged, lock released.\n", out.Event)
			default:
				color.New(color.FgGreen).Printf("%s acknowledged.\n", out.Event)
			}
			return nil
		},
	}
}
