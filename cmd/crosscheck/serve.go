package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/logging"
	xcmcp "github.com/deixis/crosscheck/internal/mcp"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/report"
)

var (
	httpAddr     string
	instructions bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio, or streamable HTTP with --http)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if instructions {
			fmt.Fprint(cmd.OutOrStdout(), xcmcp.Instructions)
			return nil
		}
		ctx, stop := signalNotify()
		defer stop()
		return serve(ctx, httpAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	serveCmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
}

func serve(ctx context.Context, addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the stdio transport.
	engine, hist, closeHistory := newEngine(cfg, logging.NewConsole(os.Stderr))
	defer closeHistory()

	disk := report.NewDiskStore(filepath.Join(cfg.OutRoot(), pipeline.RunsDir))
	store := report.NewLRUStore(5, disk)

	var reader xcmcp.HistoryReader
	if hist != nil {
		reader = hist
	}
	server := xcmcp.NewServer(engine, store, reader)

	if addr != "" {
		return serveHTTP(ctx, server, addr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
