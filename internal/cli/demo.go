package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamsinv/parley/internal/transport/ws"
)

func newDemoCmd() *cobra.Command {
	var (
		addr       string
		replyDelay time.Duration
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a loopback chat endpoint",
		Long: `Runs a standalone loopback endpoint speaking the parley frame protocol.
It auto-replies to customer messages with typing indicators and receipts,
so "parley chat --endpoint ws://<addr>/chat" exercises the full session
flow without a production endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sim := ws.NewSimulator(ws.SimulatorConfig{
				AutoReply:  !quiet,
				ReplyDelay: replyDelay,
			}, log)
			if err := sim.Start(addr); err != nil {
				return fmt.Errorf("start endpoint: %w", err)
			}
			fmt.Printf("endpoint listening at %s\n", sim.URL())

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return sim.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8920", "listen address")
	cmd.Flags().DurationVar(&replyDelay, "reply-delay", time.Second, "delay before the simulated agent replies")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "disable agent auto-replies")

	return cmd
}
