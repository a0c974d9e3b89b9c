package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailbridge/internal/notify"
)

var errNoQueue = errors.New("NOTIFY_QUEUE_URL is not set")

func notificationsCmd(d *Deps, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Tail operator notifications published by the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.Notifications == nil {
				return errNoQueue
			}
			out := cmd.OutOrStdout()
			err := d.Notifications.Poll(cmd.Context(), func(ctx context.Context, n notify.Notification) error {
				if f.structured() {
					return f.print(out, n)
				}
				_, err := fmt.Fprintf(out, "%s  %-5s  %-10s  campaign=%s record=%s  %s\n",
					n.At.Format("15:04:05"), n.Level, n.Op, n.CampaignID, n.RecordID, n.Message)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
