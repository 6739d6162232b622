package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sebas/callflow/internal/banner"
	"github.com/sebas/callflow/internal/webhook"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer incoming calls and collect caller input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			onIncoming := func(ctx context.Context, incomingCallContext, callerID string) {
				if err := a.orch.RunInbound(ctx, incomingCallContext, callerID); err != nil {
					slog.Error("[App] Inbound call failed", "caller_id", callerID, "error", err)
				}
			}

			receiver := webhook.NewServer(a.cfg.Server.ListenAddr, a.dispatcher, onIncoming, slog.Default())
			if err := receiver.Start(); err != nil {
				return err
			}

			eventsSink := "log"
			if a.cfg.Events.NATSURL != "" {
				eventsSink = a.cfg.Events.NATSURL
			}
			banner.Print("CallFlow Inbound Service", []banner.ConfigLine{
				{Label: "Listen", Value: a.cfg.Server.ListenAddr},
				{Label: "Gateway", Value: a.cfg.Gateway.Endpoint},
				{Label: "Callback URL", Value: a.cfg.Call.CallbackURL},
				{Label: "Events", Value: eventsSink},
			})

			slog.Info("[App] Ready for incoming calls", "addr", a.cfg.Server.ListenAddr)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigChan
			slog.Info("[App] Received signal, shutting down", "signal", sig)

			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return receiver.Stop(ctx)
		},
	}
}
