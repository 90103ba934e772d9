package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielfalcao/agentzero"
	"github.com/gabrielfalcao/agentzero/transport"
)

var (
	subBind    string
	subConnect string
	subTopic   string
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to a topic and print events",
	Long: `Subscribe to a topic and print each received event to stdout as one
JSON object per line, carrying the topic and the deserialized payload.
An empty --topic subscribes to everything.`,
	RunE: runSub,
}

func runSub(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.CloseAll()

	if err := attach(manager, "sub", transport.Sub, subBind, subConnect, transport.PollIn); err != nil {
		return err
	}

	if err := manager.SetTopic("sub", subTopic); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Poll in short slices so Ctrl-C is honored between events.
	encoder := json.NewEncoder(os.Stdout)
	for ctx.Err() == nil {
		event, err := manager.RecvEventSafe("sub", "",
			agentzero.WithWaitTimeout(500*time.Millisecond),
			agentzero.WithWaitPollingTimeout(100*time.Millisecond),
		)
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		line := map[string]any{"topic": event.Topic(), "data": event.Data()}
		if err := encoder.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(subCmd)

	subCmd.Flags().StringVar(&subBind, "bind", "", "address to bind the sub socket on")
	subCmd.Flags().StringVar(&subConnect, "connect", "", "address to connect the sub socket to")
	subCmd.Flags().StringVar(&subTopic, "topic", "", "topic prefix to subscribe to (empty for all)")
}
