package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielfalcao/agentzero"
	"github.com/gabrielfalcao/agentzero/internal/netutil"
	"github.com/gabrielfalcao/agentzero/transport"
)

var (
	deviceBindIn     string
	deviceBindOut    string
	deviceConnectIn  string
	deviceConnectOut string
	deviceTypeIn     string
	deviceTypeOut    string
	deviceHWMIn      int
	deviceHWMOut     int
)

// devicePatterns maps each device kind to its default in/out socket
// types, matching the classic broker devices: a queue sits between
// requesters and repliers, a forwarder relays pub/sub traffic and a
// streamer relays pipeline traffic.
var devicePatterns = map[string][2]transport.Type{
	"queue":     {transport.Router, transport.Dealer},
	"forwarder": {transport.Sub, transport.Pub},
	"streamer":  {transport.Pull, transport.Push},
}

var deviceCmd = &cobra.Command{
	Use:   "device (queue|forwarder|streamer)",
	Short: "Run a two-socket forwarding device",
	Long: `Run a device that shovels every message arriving on its in socket to
its out socket. The device kind picks the socket patterns; --type-in
and --type-out override them.

Example:

  agentzero device queue \
      --type-in=router --bind-in=tcp://0.0.0.0:2210 \
      --type-out=dealer --bind-out=tcp://0.0.0.0:2211`,
	Args: cobra.ExactArgs(1),
	RunE: runDevice,
}

func runDevice(cmd *cobra.Command, args []string) error {
	pattern, ok := devicePatterns[args[0]]
	if !ok {
		return fmt.Errorf("unknown device kind %q (want queue, forwarder or streamer)", args[0])
	}
	typeIn, typeOut := pattern[0], pattern[1]
	var err error
	if deviceTypeIn != "" {
		if typeIn, err = transport.ParseType(deviceTypeIn); err != nil {
			return err
		}
	}
	if deviceTypeOut != "" {
		if typeOut, err = transport.ParseType(deviceTypeOut); err != nil {
			return err
		}
	}

	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.CloseAll()

	if err := attach(manager, "in", typeIn, deviceBindIn, deviceConnectIn, transport.PollIn); err != nil {
		return err
	}
	if err := attach(manager, "out", typeOut, deviceBindOut, deviceConnectOut, transport.PollOut); err != nil {
		return err
	}
	if typeIn == transport.Sub {
		if err := manager.SetTopic("in", ""); err != nil {
			return err
		}
	}
	if deviceHWMIn > 0 {
		if err := manager.SetSocketOption("in", transport.OptRecvHWM, deviceHWMIn); err != nil {
			return err
		}
	}
	if deviceHWMOut > 0 {
		if err := manager.SetSocketOption("out", transport.OptSendHWM, deviceHWMOut); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("device running", "kind", args[0], "type_in", typeIn.String(), "type_out", typeOut.String())
	return pump(ctx, manager)
}

// attach binds or connects one socket, depending on which address flag
// was supplied. With neither address it binds to a free port on the
// local host's public address and reports which one it picked.
func attach(manager *agentzero.SocketManager, name string, t transport.Type, bindAddr, connectAddr string, interest transport.Mask) error {
	switch {
	case bindAddr != "" && connectAddr != "":
		return fmt.Errorf("socket %q: --bind-%s and --connect-%s are mutually exclusive", name, name, name)
	case bindAddr != "":
		_, err := manager.EnsureAndBind(name, t, netutil.FixTCPAddress(bindAddr), interest)
		return err
	case connectAddr != "":
		_, err := manager.EnsureAndConnect(name, t, netutil.FixTCPAddress(connectAddr), interest)
		return err
	}
	address, err := netutil.PublicAddress()
	if err != nil {
		return fmt.Errorf("socket %q: picking a default bind address: %w", name, err)
	}
	if _, err := manager.EnsureAndBind(name, t, address, interest); err != nil {
		return err
	}
	slog.Info("no address supplied, bound to a public one", "socket", name, "address", address)
	return nil
}

// pump forwards messages from "in" to "out" until the context is
// canceled, polling in short slices so shutdown stays responsive.
func pump(ctx context.Context, manager *agentzero.SocketManager) error {
	out, err := manager.GetByName("out")
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		in, err := manager.WaitUntilReady("in", transport.PollIn, 500*time.Millisecond, 100*time.Millisecond)
		if err != nil {
			return err
		}
		if in == nil {
			continue
		}
		frames, err := in.RecvMultipart()
		if err != nil {
			return err
		}
		if err := out.SendMultipart(frames); err != nil {
			slog.Warn("dropping message the out socket would not take", "error", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(deviceCmd)

	deviceCmd.Flags().StringVar(&deviceBindIn, "bind-in", "", "address to bind the in socket on")
	deviceCmd.Flags().StringVar(&deviceBindOut, "bind-out", "", "address to bind the out socket on")
	deviceCmd.Flags().StringVar(&deviceConnectIn, "connect-in", "", "address to connect the in socket to")
	deviceCmd.Flags().StringVar(&deviceConnectOut, "connect-out", "", "address to connect the out socket to")
	deviceCmd.Flags().StringVar(&deviceTypeIn, "type-in", "", "socket type handling input data")
	deviceCmd.Flags().StringVar(&deviceTypeOut, "type-out", "", "socket type handling output data")
	deviceCmd.Flags().IntVar(&deviceHWMIn, "hwm-in", 0, "messages to buffer on the in socket before dropping or blocking")
	deviceCmd.Flags().IntVar(&deviceHWMOut, "hwm-out", 0, "messages to buffer on the out socket before dropping or blocking")
}
