package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/logsreceiver"
	"github.com/tobert/jpm-dash/internal/mcpserver"
	"github.com/tobert/jpm-dash/internal/metricsreceiver"
	"github.com/tobert/jpm-dash/internal/storage"
	"github.com/tobert/jpm-dash/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command starts the OTLP metrics receiver, any configured file sources,
// the dashboard refresh loop and the MCP server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the job dashboard with its OTLP receiver and MCP server",
		Description: `Starts an OTLP gRPC metrics receiver on localhost:0 (ephemeral port),
tails any configured JSONL data directories, refreshes the dashboard on an
interval and serves it over MCP (stdio or streamable HTTP) and a web UI.
Send SIGHUP to force a reload of the current window.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file (JSON or YAML); default searches for .jpm-dash.json",
			},
			&cli.StringFlag{
				Name:  "site",
				Usage: "Cluster site the dashboard shows",
			},
			&cli.StringFlag{
				Name:  "window",
				Usage: "Trailing window for reloads (e.g. 24h)",
			},
			&cli.StringFlag{
				Name:  "reload-interval",
				Usage: "Periodic reload interval, 0 to disable",
			},
			&cli.IntFlag{
				Name:  "sample-buffer-size",
				Usage: "Number of metric samples to buffer",
			},
			&cli.IntFlag{
				Name:  "job-buffer-size",
				Usage: "Number of job records to keep",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP server bind address",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP server port (0 for ephemeral, -1 to disable)",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "MCP transport: stdio, http or none",
			},
			&cli.StringFlag{
				Name:  "http-host",
				Usage: "HTTP transport bind address",
			},
			&cli.IntFlag{
				Name:  "http-port",
				Usage: "HTTP transport port",
			},
			&cli.BoolFlag{
				Name:  "stateless",
				Usage: "Run the HTTP transport without sessions",
			},
			&cli.IntFlag{
				Name:  "webui-port",
				Usage: "Web UI port (0 shares the HTTP transport port)",
			},
			&cli.StringSliceFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "JSONL data directory with jobs/ and metrics/ subdirectories (repeatable)",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "OpenTelemetry Collector config to discover file exporter directories from",
			},
			&cli.BoolFlag{
				Name:  "active-only",
				Usage: "Only read the newest file in each data subdirectory",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cfg *Config, cmd *cli.Command) {
	strs := map[string]*string{
		"site":            &cfg.Site,
		"window":          &cfg.Window,
		"reload-interval": &cfg.ReloadInterval,
		"otlp-host":       &cfg.OTLPHost,
		"transport":       &cfg.Transport,
		"http-host":       &cfg.HTTPHost,
		"otel-config":     &cfg.OtelConfig,
	}
	for name, dst := range strs {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}

	ints := map[string]*int{
		"sample-buffer-size": &cfg.SampleBufferSize,
		"job-buffer-size":    &cfg.JobBufferSize,
		"otlp-port":          &cfg.OTLPPort,
		"http-port":          &cfg.HTTPPort,
		"webui-port":         &cfg.WebUIPort,
	}
	for name, dst := range ints {
		if cmd.IsSet(name) {
			*dst = cmd.Int(name)
		}
	}

	if cmd.IsSet("stateless") {
		cfg.Stateless = cmd.Bool("stateless")
	}
	if cmd.IsSet("active-only") {
		cfg.ActiveOnly = cmd.Bool("active-only")
	}
	if cmd.IsSet("verbose") {
		cfg.Verbose = cmd.Bool("verbose")
	}
	for _, dir := range cmd.StringSlice("data-dir") {
		if !contains(cfg.DataDirs, dir) {
			cfg.DataDirs = append(cfg.DataDirs, dir)
		}
	}
}

// runServe is the action handler for the serve command.
// It wires together all components: storage, receivers, controller and surfaces.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	applyFlags(cfg, cmd)

	durations, err := cfg.Durations()
	if err != nil {
		return err
	}
	switch cfg.Transport {
	case "stdio", "http", "none":
	default:
		return fmt.Errorf("unknown transport %q (want stdio, http or none)", cfg.Transport)
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Site: %s\n", cfg.Site)
		log.Printf("  Window: %s, reload every %s\n", durations.Window, durations.ReloadInterval)
		log.Printf("  Sample buffer: %d samples\n", cfg.SampleBufferSize)
		log.Printf("  Job buffer: %d records\n", cfg.JobBufferSize)
		log.Printf("  OTLP bind: %s:%d\n", cfg.OTLPHost, cfg.OTLPPort)
		log.Printf("  Transport: %s\n", cfg.Transport)
		log.Println()
	}

	// 1. Storage and the dashboard controller
	store := storage.NewStore(cfg.SampleBufferSize, cfg.JobBufferSize)

	controller, err := dashboard.New(store, dashboard.Options{
		Site:         cfg.Site,
		JobLimit:     cfg.JobLimit,
		FetchTimeout: durations.FetchTimeout,
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}

	ctx, cancel := context.WithCancel(cliCtx)
	defer cancel()

	// 2. OTLP receiver: metrics plus job events carried as logs
	endpoint := ""
	otlpErrChan := make(chan error, 1)
	if cfg.OTLPPort >= 0 {
		jobEvents, err := logsreceiver.NewService(logsreceiver.Config{
			DefaultSite: cfg.Site,
			Verbose:     cfg.Verbose,
		}, store)
		if err != nil {
			return fmt.Errorf("failed to create job events service: %w", err)
		}

		otlpServer, err := metricsreceiver.NewServer(metricsreceiver.Config{
			Host:     cfg.OTLPHost,
			Port:     cfg.OTLPPort,
			Verbose:  cfg.Verbose,
			Services: []metricsreceiver.Service{jobEvents},
		}, store)
		if err != nil {
			return fmt.Errorf("failed to create OTLP server: %w", err)
		}
		go func() {
			otlpErrChan <- otlpServer.Serve(ctx)
		}()

		endpoint = otlpServer.Endpoint()
		log.Printf("🌐 OTLP gRPC receiver (metrics, job events as logs) listening on %s\n", endpoint)
		if cfg.Verbose {
			log.Printf("   Collectors can export with: OTEL_EXPORTER_OTLP_ENDPOINT=%s\n", endpoint)
		}
	}
	otlpEndpoint := func() string { return endpoint }

	// 3. MCP server and file sources
	mcpSrv, err := mcpserver.NewServer(controller, store, mcpserver.ServerOptions{
		Window:       durations.Window,
		OTLPEndpoint: otlpEndpoint,
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpSrv.Shutdown()

	dataDirs := append([]string(nil), cfg.DataDirs...)
	if cfg.OtelConfig != "" {
		dirs, err := ParseOtelConfig(cfg.OtelConfig)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			if !contains(dataDirs, dir) {
				dataDirs = append(dataDirs, dir)
			}
		}
	}
	for _, dir := range dataDirs {
		if err := mcpSrv.AddFileSource(ctx, dir, cfg.ActiveOnly); err != nil {
			log.Printf("⚠️  Skipping data directory %s: %v\n", dir, err)
			continue
		}
		log.Printf("📂 Reading data from %s\n", dir)
	}

	// 4. Reload hooks: initial load, periodic ticks and SIGHUP
	window := dashboard.Window(durations.Window, controller.Now)
	if _, err := controller.Refresh(ctx, window()); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	if durations.ReloadInterval > 0 {
		controller.Bind(ctx, dashboard.Periodic(durations.ReloadInterval), window)
	}
	trigger := dashboard.NewTrigger()
	controller.Bind(ctx, trigger.Hook(), window)

	// 5. Signals: SIGHUP reloads, SIGINT/SIGTERM shut down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					log.Println("🔄 SIGHUP received, reloading dashboard")
					trigger.Fire()
					continue
				}
				if cfg.Verbose {
					log.Printf("📡 Received signal %v, initiating graceful shutdown...\n", sig)
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// 6. Serve the surfaces until shutdown
	ui := webui.New(controller, store, webui.Options{
		Window:       durations.Window,
		OTLPEndpoint: otlpEndpoint,
	})

	switch cfg.Transport {
	case "http":
		err = serveHTTP(ctx, cfg, mcpSrv, ui)
	case "none":
		addr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
		if cfg.WebUIPort > 0 {
			addr = net.JoinHostPort(cfg.WebUIHost, strconv.Itoa(cfg.WebUIPort))
		}
		log.Printf("🖥️  Web UI at http://%s/ui/\n", addr)
		err = ui.ListenAndServe(ctx, addr)
	default:
		if cfg.WebUIPort > 0 {
			startWebUI(ctx, cfg, ui)
		}
		log.Println("🎯 MCP server ready on stdio")
		log.Println("💡 Use reload_dashboard then get_dashboard to read the cluster view")
		log.Println()
		err = mcpSrv.Run(ctx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		select {
		case otlpErr := <-otlpErrChan:
			if otlpErr != nil {
				return fmt.Errorf("OTLP server error: %w", otlpErr)
			}
		default:
		}
		return fmt.Errorf("%s server error: %w", cfg.Transport, err)
	}
	return nil
}

// serveHTTP runs the streamable HTTP MCP transport. The web UI shares the
// listener unless it has its own port.
func serveHTTP(ctx context.Context, cfg *Config, mcpSrv *mcpserver.Server, ui *webui.Server) error {
	mux := http.NewServeMux()
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpSrv.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: cfg.Stateless})
	mux.Handle("/mcp", handler)

	addr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
	if cfg.WebUIPort > 0 {
		startWebUI(ctx, cfg, ui)
	} else {
		ui.RegisterRoutes(mux)
		log.Printf("🖥️  Web UI at http://%s/ui/\n", addr)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Printf("🎯 MCP server ready on http://%s/mcp\n", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// startWebUI serves the web UI on its own port in the background.
func startWebUI(ctx context.Context, cfg *Config, ui *webui.Server) {
	addr := net.JoinHostPort(cfg.WebUIHost, strconv.Itoa(cfg.WebUIPort))
	log.Printf("🖥️  Web UI at http://%s/ui/\n", addr)
	go func() {
		if err := ui.ListenAndServe(ctx, addr); err != nil {
			log.Printf("❌ Web UI server error: %v\n", err)
		}
	}()
}
