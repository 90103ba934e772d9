package cmd

import (
	"bufio"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gabrielfalcao/agentzero/transport"
)

var (
	pushBind    string
	pushConnect string
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push stdin lines down a pipeline",
	Long: `Read lines from stdin and push each one down a pipeline socket,
waiting for a puller to be ready before every send.`,
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.CloseAll()

	if err := attach(manager, "push", transport.Push, pushBind, pushConnect, transport.PollOut); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		sent, err := manager.SendSafe("push", map[string]any{"line": line})
		if err != nil {
			return err
		}
		if !sent {
			slog.Warn("no puller became ready, dropping line", "line", line)
		}
	}
	return scanner.Err()
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().StringVar(&pushBind, "bind", "", "address to bind the push socket on")
	pushCmd.Flags().StringVar(&pushConnect, "connect", "", "address to connect the push socket to")
}
