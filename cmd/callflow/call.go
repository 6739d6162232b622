package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sebas/callflow/internal/webhook"
)

func newCallCmd() *cobra.Command {
	var participant string

	cmd := &cobra.Command{
		Use:   "call <target>...",
		Short: "Place outbound calls and connect a participant on confirmation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if participant == "" {
				participant = a.cfg.Call.TargetParticipant
			}

			// The backend reports outcomes through the callback URL, so the
			// receiver must be up before the first call is placed.
			receiver := webhook.NewServer(a.cfg.Server.ListenAddr, a.dispatcher, nil, slog.Default())
			if err := receiver.Start(); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := receiver.Stop(ctx); err != nil {
					slog.Warn("[App] Receiver shutdown failed", "error", err)
				}
			}()

			var wg sync.WaitGroup
			for _, target := range args {
				wg.Add(1)
				go func(target string) {
					defer wg.Done()
					if err := a.orch.Run(cmd.Context(), target, participant); err != nil {
						slog.Error("[App] Call failed", "target", target, "error", err)
					}
				}(target)
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().StringVarP(&participant, "participant", "p", "", "identity to add on confirmation (defaults to call.target_participant)")
	return cmd
}
