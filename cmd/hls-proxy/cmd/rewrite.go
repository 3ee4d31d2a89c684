package cmd

import (
	"context"
	"fmt"

	"hls-proxy-go/internal/app"

	"github.com/spf13/cobra"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <playlist-url>",
	Short: "Fetch a playlist and print it rewritten",
	Long: `Start the proxy on a free loopback port, fetch one playlist through it,
print the rewritten text and exit. Segment URLs in the output point at a
server that is no longer running; the command is meant for inspection.`,
	Args: cobra.ExactArgs(1),
	RunE: runRewrite,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)

	rewriteCmd.Flags().StringArrayP("header", "H", nil, `Header sent to the origin, "Name: value" (repeatable)`)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	oneShot := *cfg
	oneShot.Server.Port = 0
	oneShot.Metrics.Addr = ""

	application := app.New(&oneShot, logger)
	if err := application.Start(); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	text, err := application.Manager.ProcessM3U8(cmd.Context(), args[0], headers)
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}
