package cmd

import (
	"bufio"
	"os"

	"github.com/spf13/cobra"

	"github.com/gabrielfalcao/agentzero/transport"
)

var (
	pubBind    string
	pubConnect string
	pubTopic   string
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish stdin lines as events on a topic",
	Long: `Read lines from stdin and publish each one as an event on the given
topic. Subscribers see a payload of the form {"line": ...}.

Example:

  tail -f service.log | agentzero pub --bind=tcp://0.0.0.0:6000 --topic=logs`,
	RunE: runPub,
}

func runPub(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.CloseAll()

	if err := attach(manager, "pub", transport.Pub, pubBind, pubConnect, transport.PollOut); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		payload := map[string]any{"line": scanner.Text()}
		if err := manager.PublishSafe("pub", pubTopic, payload); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func init() {
	rootCmd.AddCommand(pubCmd)

	pubCmd.Flags().StringVar(&pubBind, "bind", "", "address to bind the pub socket on")
	pubCmd.Flags().StringVar(&pubConnect, "connect", "", "address to connect the pub socket to")
	pubCmd.Flags().StringVar(&pubTopic, "topic", "logs", "topic to publish under")
}
