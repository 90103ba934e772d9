package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gabrielfalcao/agentzero"
	"github.com/gabrielfalcao/agentzero/internal/config"
	"github.com/gabrielfalcao/agentzero/internal/netutil"
	"github.com/gabrielfalcao/agentzero/serializers"
	"github.com/gabrielfalcao/agentzero/transport"
	"github.com/gabrielfalcao/agentzero/transport/zeromq"
)

var rootCmd = &cobra.Command{
	Use:   "agentzero",
	Short: "Command-line utilities for agentzero sockets",
	Long: `agentzero wires named messaging sockets together from the command line.

Available commands:
  device    Run a two-socket forwarding device (queue, forwarder, streamer)
  pub       Publish stdin lines as events on a topic
  sub       Subscribe to a topic and print events
  push      Push stdin lines down a pipeline
  pull      Pull pipeline messages and print them

Use "agentzero [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newManager builds a manager over a fresh ZeroMQ context, with the
// serializer picked through AGENTZERO_SERIALIZER. When
// AGENTZERO_LOG_SOCKET is set the process's logs are also republished
// as events, so subscribers can tail the command remotely.
func newManager() (*agentzero.SocketManager, error) {
	cfg := config.New()
	serializer, err := serializerByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	tr, err := zeromq.New()
	if err != nil {
		return nil, err
	}
	manager := agentzero.New(tr, agentzero.WithSerializer(serializer))
	if cfg.PublishSocket != "" {
		if err := enableLogPublishing(manager, cfg); err != nil {
			manager.CloseAll()
			return nil, err
		}
	}
	return manager, nil
}

// enableLogPublishing binds a pub socket on a free public address and
// swaps the default logger for one that publishes every record on the
// configured topic. The manager keeps the logger it captured at
// construction, so its own diagnostics never feed back into the
// publish path.
func enableLogPublishing(manager *agentzero.SocketManager, cfg *config.Config) error {
	address, err := netutil.PublicAddress()
	if err != nil {
		return err
	}
	if _, err := manager.EnsureAndBind(cfg.PublishSocket, transport.Pub, address, transport.PollOut); err != nil {
		return err
	}
	slog.Info("republishing logs as events",
		"socket", cfg.PublishSocket, "topic", cfg.PublishTopic, "address", address)
	slog.SetDefault(manager.Logger(cfg.PublishSocket, cfg.PublishTopic))
	return nil
}

func serializerByName(name string) (serializers.Serializer, error) {
	switch name {
	case "", "json":
		return serializers.JSON{}, nil
	case "msgpack":
		return serializers.Msgpack{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q (want json or msgpack)", name)
}
