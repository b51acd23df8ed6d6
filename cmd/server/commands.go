package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/in2out/mattermost-s-mcp/internal/tools"
	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
)

// newRootCmd builds the command tree. Without a subcommand the server runs
// over stdio, reading in and writing responses to out.
func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "mattermost-s-mcp",
		Short:        "MCP server that posts messages to Mattermost incoming webhooks",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runServe(in),
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("config", "", "webhook YAML file (env MATTERMOST_MCP_CONFIG)")
	pf.String("settings", "", "optional server settings file")
	pf.String("log-level", "", "log level: debug, info, warning, error")
	pf.String("log-file", "", "log file (env MATTERMOST_MCP_LOG_FILE)")
	addServeFlags(root)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe(in),
	}
	addServeFlags(serve)

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered webhook channels",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	setDefault := &cobra.Command{
		Use:   "set-default CHANNEL",
		Short: "Change the default channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetDefault,
	}

	send := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a channel",
		Args:  cobra.NoArgs,
		RunE:  runSend,
	}
	send.Flags().String("text", "", "message text")
	send.Flags().String("channel", "", "target channel; the default channel when omitted")
	send.Flags().Bool("dry-run", false, "print the resolved webhook instead of sending")
	_ = send.MarkFlagRequired("text")

	root.AddCommand(serve, list, setDefault, send)
	return root
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "HTTP port for WebSocket mode; 0 serves stdio")
	cmd.Flags().Bool("watch", false, "re-check the webhook file when it changes")
}

// setup wires the application from the command's flags
func setup(cmd *cobra.Command) (*app, error) {
	settings, _ := cmd.Flags().GetString("settings")
	return newApp(settings, cmd.Flags())
}

func runServe(in io.Reader) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.serve(ctx, in, cmd.OutOrStdout())
	}
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	listing, err := a.webhooks.List(commandContext(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(listing.Channels) == 0 {
		fmt.Fprintln(out, "No webhooks registered.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tDEFAULT\tDESCRIPTION")
	for _, ch := range listing.Channels {
		marker := ""
		if listing.Default != nil && *listing.Default == ch.Channel {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.Channel, marker, ch.Description)
	}
	return tw.Flush()
}

func runSetDefault(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	msg, err := a.webhooks.SetDefault(commandContext(cmd), tools.SetDefaultRequest{Channel: args[0]})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	text, _ := cmd.Flags().GetString("text")
	channel, _ := cmd.Flags().GetString("channel")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	req := tools.SendMessageRequest{Text: text, Channel: channel}
	ctx := commandContext(cmd)

	if dryRun {
		target, err := a.webhooks.Resolve(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[DRY-RUN] %s (%s) -> %s\n", target.Channel, webhooks.Mask(target.URL), text)
		return nil
	}

	msg, err := a.webhooks.SendMessage(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
