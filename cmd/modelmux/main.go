// Command modelmux runs the LLM gateway: one HTTP process that fronts
// multiple model backends behind a unified request shape and hosts the
// in-memory agent message bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelmux/modelmux/pkg/api"
	"github.com/modelmux/modelmux/pkg/bus"
	"github.com/modelmux/modelmux/pkg/config"
	"github.com/modelmux/modelmux/pkg/gateway"
	"github.com/modelmux/modelmux/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file (optional)")
		host       = flag.String("host", "", "bind host (overrides config)")
		port       = flag.Int("port", 0, "bind port (overrides config)")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelmux: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	dispatcher := gateway.New(cfg)
	agentBus := bus.New()
	server := api.NewServer(cfg, dispatcher, agentBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.ErrorCF("main", "Failed to start server", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.InfoCF("main", "Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})
	cancel()
	if err := server.Stop(); err != nil {
		logger.WarnCF("main", "Shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
