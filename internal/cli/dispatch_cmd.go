package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mailbridge/internal/attachment"
	"mailbridge/internal/domain"
	"mailbridge/internal/service"
)

func sendCmd(d *Deps, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <campaign-id> <record-id>",
		Short: "Send one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, rid := domain.ID(args[0]), domain.ID(args[1])
			if err := d.Console.SendOne(cmd.Context(), id, rid); err != nil {
				return err
			}
			defer d.Console.Close(id)
			if f.structured() {
				return render(cmd.OutOrStdout(), d.Console, id, f)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "send requested for record %s\n", rid)
			return nil
		},
	}
}

func sendAllCmd(d *Deps, f *rootFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send-all <campaign-id>",
		Short: "Send every unsent record of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ID(args[0])
			if err := d.Console.SendAll(cmd.Context(), id); err != nil {
				return err
			}
			defer d.Console.Close(id)
			fmt.Fprintf(cmd.ErrOrStderr(), "send-all accepted for campaign %s\n", id)
			if !wait {
				return nil
			}
			return follow(cmd.Context(), cmd.OutOrStdout(), d.Console, id, true, f)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "follow progress until every record is sent")
	return cmd
}

func watchCmd(d *Deps, f *rootFlags) *cobra.Command {
	var untilDone bool
	cmd := &cobra.Command{
		Use:   "watch <campaign-id>",
		Short: "Poll a campaign and print progress on every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ID(args[0])
			if _, err := d.Console.Open(cmd.Context(), id); err != nil {
				return err
			}
			defer d.Console.Close(id)
			return follow(cmd.Context(), cmd.OutOrStdout(), d.Console, id, untilDone, f)
		},
	}
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "exit once every record is sent")
	return cmd
}

func previewCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <url>",
		Short: "Classify an attachment reference and print its preview target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := attachment.Resolve(args[0])
			if f.structured() {
				return f.print(cmd.OutOrStdout(), p)
			}
			if p.OpenExternal {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\topen externally\n", p.Kind)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Kind, p.EmbedURL)
			return nil
		},
	}
}

// follow prints a progress line for the current state and each change after
// it. It returns when ctx ends, or once nothing is left to send when
// untilDone is set.
func follow(ctx context.Context, w io.Writer, c *service.Console, id domain.ID, untilDone bool, f *rootFlags) error {
	s, err := c.Open(ctx, id)
	if err != nil {
		return err
	}
	updates, cancel := s.View.Subscribe()
	defer cancel()

	var last uint64
	emit := func() (done bool, err error) {
		ver := s.View.Version()
		if ver == last {
			return false, nil
		}
		last = ver
		v, ok := c.View(id)
		if !ok {
			return false, nil
		}
		if f.structured() {
			err = f.print(w, v)
		} else {
			_, err = fmt.Fprintf(w, "%s  %d/%d sent  %s\n", v.ID, v.SentCount, v.TotalCount, v.SendAll.Label)
		}
		return v.Progress != domain.ProgressInProgress, err
	}

	for {
		done, err := emit()
		if err != nil || (untilDone && done) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
		}
	}
}
