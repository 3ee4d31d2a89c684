package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"hls-proxy-go/internal/app"
	"hls-proxy-go/internal/version"
	"hls-proxy-go/pkg/integration"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the local HLS proxy and block until interrupted.

Endpoints:
- /health                liveness text
- /m3u8?url=<playlist>   rewritten playlist
- /segment?url=<segment> segment with fake image headers removed

Each --video is routed through the proxy the same way a content source would
be, and the resulting player URL is printed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on (0 picks a free port)")
	serveCmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics listener (empty disables it)")
	serveCmd.Flags().StringSlice("video", nil, "Video URL to route through the proxy (repeatable)")
	serveCmd.Flags().String("mime", "", "Declared MIME type of every --video")
	serveCmd.Flags().StringArrayP("header", "H", nil, `Header sent with --video probes, "Name: value" (repeatable)`)
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	overrideString(flags, "host", &cfg.Server.Host)
	overrideInt(flags, "port", &cfg.Server.Port)
	overrideString(flags, "metrics-addr", &cfg.Metrics.Addr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	rawHeaders, _ := flags.GetStringArray("header")
	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	if err := application.Start(); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}

	serverURL, _ := application.Manager.ServerURL()
	printBanner(serverURL)

	urls, _ := flags.GetStringSlice("video")
	mime, _ := flags.GetString("mime")
	if len(urls) > 0 {
		videos := make([]integration.Video, 0, len(urls))
		for _, u := range urls {
			videos = append(videos, integration.Video{URL: u, MimeType: mime, Headers: headers})
		}
		for i, v := range application.Adapter.Rewrite(ctx, videos) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  -> %s\n", videos[i].URL, v.URL)
		}
	}

	<-ctx.Done()
	return application.Shutdown(context.Background())
}

func printBanner(serverURL string) {
	lines := []string{
		fmt.Sprintf("%s  %s", pterm.Gray("Version"), version.Short()),
		fmt.Sprintf("%s  %s", pterm.Gray("Proxy  "), pterm.LightGreen(serverURL)),
	}
	if cfg.Metrics.Addr != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", pterm.Gray("Metrics"), "http://"+cfg.Metrics.Addr+"/metrics"))
	}
	pterm.DefaultBox.
		WithTitle(pterm.LightCyan("HLS PROXY")).
		WithTitleBottomRight().
		Println(strings.Join(lines, "\n"))
}

// parseHeaders parses curl-style "Name: value" pairs.
func parseHeaders(raw []string) (http.Header, error) {
	headers := make(http.Header, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", h)
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers, nil
}
