// Package mcp exposes case sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/service"
)

// ServerInfo contains MCP server metadata
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Repertory named in exports when the caller names none
	RepertoryName string `json:"repertory_name"`
}

// Server is the MCP tool server over a case service
type Server struct {
	cases     *service.CaseService
	mcpServer *mcp.Server
	info      ServerInfo
	logger    *logrus.Logger
}

// NewServer creates an MCP server and registers the case tools
func NewServer(cases *service.CaseService, info ServerInfo, logger *logrus.Logger) *Server {
	if info.Name == "" {
		info.Name = "repertory-sheet-server"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	s := &Server{
		cases: cases,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    info.Name,
			Version: info.Version,
		}, nil),
		info:   info,
		logger: logger,
	}
	s.registerTools()

	return s
}

// Run serves MCP over the given transport until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcpServer.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// ServeStdio serves MCP over stdin/stdout
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.WithField("transport", "stdio").Info("MCP server started")
	return s.Run(ctx, &mcp.StdioTransport{})
}

// ServeHTTP serves MCP over streamable HTTP on addr until ctx is cancelled
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{"transport": "http", "addr": addr}).Info("MCP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
