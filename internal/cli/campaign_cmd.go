package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mailbridge/internal/domain"
	"mailbridge/internal/intake"
	"mailbridge/internal/service"
)

func listCmd(d *Deps, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns with progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := d.Console.Summaries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.structured() {
				return f.print(out, rows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tUPLOADED\tSENT\tPROGRESS\tSEND ALL")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					r.ID, r.Title, r.UploadedAt.Format(time.DateTime), r.SentCount, r.TotalCount, r.Progress, r.SendAll.Label)
			}
			return tw.Flush()
		},
	}
}

func uploadCmd(d *Deps, f *rootFlags) *cobra.Command {
	var title, path string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a recipient roster (.csv, .xls, .xlsx) as a new campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := intake.File{}
			if path != "" {
				file.Name = filepath.Base(path)
				file.Open = func() (io.ReadCloser, error) { return os.Open(path) }
			}
			created, err := d.Console.Upload(cmd.Context(), title, file)
			if err != nil {
				return err
			}
			if f.structured() {
				return f.print(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created campaign %s %q with %d records\n", created.ID, created.Title, created.TotalCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "campaign title")
	cmd.Flags().StringVar(&path, "file", "", "roster file")
	return cmd
}

func deleteCmd(d *Deps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <campaign-id>",
		Short: "Delete a campaign and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ID(args[0])
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Delete campaign %s? [y/N] ", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			if err := d.Console.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted campaign %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func showCmd(d *Deps, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <campaign-id>",
		Short: "Show a campaign, its records and their attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.ID(args[0])
			if _, err := d.Console.Open(cmd.Context(), id); err != nil {
				return err
			}
			defer d.Console.Close(id)
			return render(cmd.OutOrStdout(), d.Console, id, f)
		},
	}
}

func render(w io.Writer, c *service.Console, id domain.ID, f *rootFlags) error {
	v, ok := c.View(id)
	if !ok {
		return domain.ErrNotWatched
	}
	if f.structured() {
		return f.print(w, v)
	}
	fmt.Fprintf(w, "%s  %s  (%d/%d sent, %s)  [%s]\n", v.ID, v.Title, v.SentCount, v.TotalCount, v.Progress, v.SendAll.Label)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tSUBJECT\tSTATUS\tATTACHMENTS")
	for _, r := range v.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Email, r.Subject, r.Send.Label, len(r.Attachments))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range v.Records {
		for _, a := range r.Attachments {
			target := a.EmbedURL
			if a.OpenExternal {
				target = "open externally: " + a.RawURL
			}
			fmt.Fprintf(w, "  %s  %-14s %s\n", r.ID, a.Kind, target)
		}
	}
	return nil
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, prompt io.Writer, question string) (bool, error) {
	fmt.Fprint(prompt, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
