package main

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"pactflow/app"
	"pactflow/config"
	"pactflow/mcptools"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	// stdout carries the protocol; logs go to stderr.
	log := cfg.Logger()

	a, err := app.Build(context.Background(), cfg, log, nil)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()

	srv := mcptools.NewServer(a.Orchestrator, version)
	log.Info("mcp server listening on stdio")
	if err := server.ServeStdio(srv.MCPServer()); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
