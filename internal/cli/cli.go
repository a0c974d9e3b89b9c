package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mailbridge/internal/awsutil"
	"mailbridge/internal/backend"
	"mailbridge/internal/config"
	"mailbridge/internal/logging"
	"mailbridge/internal/notify/sqsnotify"
	"mailbridge/internal/service"
)

// Deps is what every subcommand runs against.
type Deps struct {
	Console *service.Console

	// Notifications is nil when no notification queue is configured.
	Notifications NotificationSource
}

type NotificationSource interface {
	Poll(ctx context.Context, handler sqsnotify.Handler) error
}

type rootFlags struct {
	output string
	json   bool
}

// structured reports whether output should be machine readable.
func (f *rootFlags) structured() bool {
	return f.json || f.output == "json" || f.output == "yaml"
}

func (f *rootFlags) print(w io.Writer, v any) error {
	if f.output == "yaml" && !f.json {
		return printYAML(w, v)
	}
	return printJSON(w, v)
}

// NewRootCmd builds the command tree. Tests pass their own Deps.
func NewRootCmd(d *Deps) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Operate bulk email campaigns from the terminal",
		Long: `dispatchctl talks to the campaign backend the same way the console does.

Examples:
  dispatchctl list
  dispatchctl upload --title "Spring launch" --file roster.csv
  dispatchctl show 12
  dispatchctl send 12 340
  dispatchctl send-all 12 --wait
  dispatchctl delete 12 --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.output, "output", "o", "table", "output format: table, json or yaml")
	root.PersistentFlags().BoolVar(&f.json, "json", false, "shorthand for --output json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		switch f.output {
		case "table", "json", "yaml":
			return nil
		}
		return fmt.Errorf("unknown output format %q", f.output)
	}

	root.AddCommand(
		listCmd(d, f),
		uploadCmd(d, f),
		deleteCmd(d),
		showCmd(d, f),
		sendCmd(d, f),
		sendAllCmd(d, f),
		watchCmd(d, f),
		previewCmd(f),
		notificationsCmd(d, f),
	)
	return root
}

// Execute loads configuration from the environment, runs the command line
// and returns the process exit code.
func Execute() int {
	cfg, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	logging.InitTo(os.Stderr, "dispatchctl", cfg.LogFormat, cfg.LogLevel)

	client := backend.New(backend.Options{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		TokenFile: cfg.TokenFile,
		Timeout:   cfg.HTTPTimeout,
		RPS:       cfg.RPS,
		Burst:     cfg.Burst,
		Breaker: backend.BreakerOptions{
			MaxRequests:         cfg.BreakerMaxRequests,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		},
	})
	svc := service.New(service.Options{
		Backend:      client,
		PollInterval: cfg.PollInterval,
		SendAllGrace: cfg.SendAllGrace,
	})
	defer svc.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &Deps{Console: svc}
	if cfg.NotifyQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		deps.Notifications = &sqsnotify.Consumer{SQS: sqsClient, QueueURL: cfg.NotifyQueueURL}
	}

	if err := NewRootCmd(deps).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML goes through JSON so field names match the json tags and the
// API responses.
func printYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles the JSON source left on the
// nodes. Strings that need quotes still get them from the encoder.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
