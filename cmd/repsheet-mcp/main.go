// Package main provides the standalone MCP entry point of the repertory sheet server.
// It needs no database: rubrics are cached in memory and prescriptions go to SQLite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repertory-sheet-server/internal/config"
	"github.com/repertory-sheet-server/internal/mcp"
	"github.com/repertory-sheet-server/internal/setup"
)

func main() {
	root := &cobra.Command{
		Use:           "repsheet-mcp",
		Short:         "Repertory sheet MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(setup.NewCommand())

	if err := root.Execute(); err != nil {
		log.Fatalf("repsheet-mcp: %v", err)
	}
}

func serve() error {
	config.LoadDotEnv()
	cfg := config.LoadLiteConfig()

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
