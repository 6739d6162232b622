package main

import (
	"log/slog"
	"os"

	"github.com/sebas/callflow/internal/call"
	"github.com/sebas/callflow/internal/config"
	"github.com/sebas/callflow/internal/events"
	"github.com/sebas/callflow/internal/gateway"
	"github.com/sebas/callflow/internal/logger"
)

// app bundles the wired components each subcommand needs.
type app struct {
	cfg        *config.Config
	orch       *call.Orchestrator
	dispatcher *events.Dispatcher
	publisher  events.Publisher
}

// newApp loads configuration and wires the gateway client, dispatcher,
// publisher, and orchestrator.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	gw, err := gateway.NewRESTClient(gateway.RESTConfig{
		Endpoint:       cfg.Gateway.Endpoint,
		AccessKey:      cfg.Gateway.AccessKey,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}, slog.Default())
	if err != nil {
		return nil, err
	}

	dispatcher := events.NewDispatcher(slog.Default())

	var publisher events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.NewNATSPublisher(events.DefaultNATSConfig(cfg.Events.NATSURL), slog.Default())
		if err != nil {
			return nil, err
		}
	} else {
		publisher = events.NewLoggingPublisher(slog.Default())
	}

	orch := call.NewOrchestrator(call.OrchestratorConfig{
		Call:       cfg.Call,
		Gateway:    gw,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Logger:     slog.Default(),
	})

	return &app{
		cfg:        cfg,
		orch:       orch,
		dispatcher: dispatcher,
		publisher:  publisher,
	}, nil
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		slog.Warn("[App] Publisher close failed", "error", err)
	}
}
