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
	pullBind    string
	pullConnect string
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull pipeline messages and print them",
	Long: `Receive messages from a pipeline socket and print each deserialized
payload to stdout as one JSON value per line.`,
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.CloseAll()

	if err := attach(manager, "pull", transport.Pull, pullBind, pullConnect, transport.PollIn); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	encoder := json.NewEncoder(os.Stdout)
	for ctx.Err() == nil {
		value, received, err := manager.RecvSafe("pull",
			agentzero.WithWaitTimeout(500*time.Millisecond),
			agentzero.WithWaitPollingTimeout(100*time.Millisecond),
		)
		if err != nil {
			return err
		}
		if !received {
			continue
		}
		if err := encoder.Encode(value); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().StringVar(&pullBind, "bind", "", "address to bind the pull socket on")
	pullCmd.Flags().StringVar(&pullConnect, "connect", "", "address to connect the pull socket to")
}
