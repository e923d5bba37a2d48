// Command esxi-mcp-server exposes VMware ESXi and vCenter management tools
// over the Model Context Protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/esxi-mcp-server/auth"
	"github.com/ggoodman/esxi-mcp-server/internal/config"
	"github.com/ggoodman/esxi-mcp-server/internal/engine"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/ggoodman/esxi-mcp-server/mcpservice"
	"github.com/ggoodman/esxi-mcp-server/stdio"
	"github.com/ggoodman/esxi-mcp-server/streaminghttp"
	"github.com/ggoodman/esxi-mcp-server/vmtools"
	"github.com/ggoodman/esxi-mcp-server/vsphere/vcenter"
)

// version is set at build time.
var version = engine.DefaultServerVersion

const authInstructions = "Call the authenticate tool with the server API key before using the management tools."

const banner = `
           _
  ___  ___| |__ (_)      _ __ ___   ___ _ __
 / _ \/ __| '_ \| |_____| '_ ' _ \ / __| '_ \
|  __/\__ \ |_) | |_____| | | | | | (__| |_) |
 \___||___/_.__/|_|     |_| |_| |_|\___| .__/
                                       |_|
`

const shutdownTimeout = 5 * time.Second

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: esxi-mcp-server <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve    Start the MCP server (run 'serve -h' for flags)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a .yaml, .yml or .json config file (environment variables override it)")
	transport := fs.String("transport", "http", "transport to serve: http or stdio")
	addr := fs.String("addr", "0.0.0.0:8080", "listen address for the http transport")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *transport != "http" && *transport != "stdio" {
		return fmt.Errorf("unknown transport %q", *transport)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	logger, closeLog, err := setupLogger(cfg, level)
	if err != nil {
		return err
	}
	defer closeLog()

	printBanner(cfg, *configPath, *transport, *addr)

	client, err := vcenter.New(ctx, vcenter.Options{
		Host:       cfg.VCenterHost,
		User:       cfg.VCenterUser,
		Password:   cfg.VCenterPassword,
		Datacenter: cfg.Datacenter,
		Cluster:    cfg.Cluster,
		Datastore:  cfg.Datastore,
		Network:    cfg.Network,
		Insecure:   cfg.Insecure,
	}, vcenter.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connecting to vCenter: %w", err)
	}
	defer func() {
		if err := client.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("vcenter.logout.fail", slog.String("err", err.Error()))
		}
	}()

	gate := auth.NewGate(cfg.APIKey, auth.WithLogger(logger), auth.WithObserver(vmtools.Observer(client)))
	reg := mcpservice.NewRegistry()
	if err := vmtools.Register(reg, client, gate); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	engOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: engine.DefaultServerName, Version: version}),
	}
	if gate.KeyRequired() {
		engOpts = append(engOpts, engine.WithInstructions(authInstructions))
	}
	eng := engine.NewEngine(reg, engOpts...)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if *configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, *configPath, logger, func(c *config.Config) {
				level.Set(c.Level())
			})
		})
	}

	switch *transport {
	case "stdio":
		g.Go(func() error {
			// The session ends when the client closes stdin.
			defer stop()
			return stdio.NewHandler(eng, stdio.WithLogger(logger)).Serve(ctx)
		})
	case "http":
		mgr := streaminghttp.NewSessionManager(ctx, eng, streaminghttp.WithLogger(logger))
		srv := &http.Server{
			Addr:              *addr,
			Handler:           streaminghttp.New(mgr, gate, streaminghttp.WithLogger(logger)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http.listen", slog.String("addr", *addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			mgr.Close()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server.stopped")
	return nil
}

// setupLogger writes text logs to stderr, or JSON logs to the configured
// file. Stdout is never used because it carries the stdio transport.
func setupLogger(cfg *config.Config, level *slog.LevelVar) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	closeFn := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		h = slog.NewJSONHandler(f, opts)
		closeFn = func() { _ = f.Close() }
	}

	logger := logctx.Wrap(slog.New(h))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func printBanner(cfg *config.Config, configPath, transport, addr string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(os.Stderr, banner)
	gray.Fprintf(os.Stderr, "    version: %s\n\n", version)

	row := func(label, value string) {
		green.Fprint(os.Stderr, "    ▶ ")
		fmt.Fprintf(os.Stderr, "%-11s%s\n", label+":", value)
	}
	if configPath != "" {
		row("Config", configPath)
	}
	row("vCenter", cfg.VCenterHost)
	if cfg.Datacenter != "" {
		row("Datacenter", cfg.Datacenter)
	}
	if transport == "http" {
		row("Transport", "streaming http on "+addr+"/message")
	} else {
		row("Transport", "stdio")
	}
	row("Log level", cfg.LogLevel)

	if cfg.APIKey == "" {
		yellow.Fprintln(os.Stderr, "    ! no api_key configured, privileged tools are open")
	}
	if cfg.Insecure {
		yellow.Fprintln(os.Stderr, "    ! TLS certificate verification disabled")
	}
	fmt.Fprintln(os.Stderr)
}
