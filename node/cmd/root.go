package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caldog20/tunrelay/config"
	"github.com/caldog20/tunrelay/pkg/console"
	"github.com/caldog20/tunrelay/relay"
)

var (
	configPath  string
	flagCfg     = config.Default()
	diagnostics = console.New(os.Stderr)

	rootCmd = &cobra.Command{
		Use:   "tunrelay",
		Short: "Point-to-point TUN over TCP relay",
		Long: "tunrelay joins two hosts through a virtual network interface. One side runs\n" +
			"the server role and accepts a single peer, the other side connects with the\n" +
			"client role. Packets are length prefixed and masked before going on the wire.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "yaml config file, flags override its values")
	flags.StringVar(&flagCfg.Cipher, "cipher", "", "packet cipher: xor, xchacha20poly1305 or aesgcm")
	flags.StringVar(&flagCfg.Key, "key", "", "cipher key as 0x-prefixed hex or base64")
	flags.StringVar(&flagCfg.KeyFile, "key-file", "", "key file written by keygen")
	flags.StringVar(&flagCfg.TunName, "tun-name", flagCfg.TunName, "tunnel interface name, a hint on darwin")
	flags.StringVar(&flagCfg.TunAddr, "tun-addr", "", "address/prefix to assign to the interface, e.g. 10.8.0.1/24")
	flags.IntVar(&flagCfg.MTU, "mtu", flagCfg.MTU, "tunnel interface mtu")
	flags.IntVar(&flagCfg.MaxFrame, "max-frame", 0, "largest frame accepted from the peer, 0 derives it from mtu and cipher")
	flags.StringVar(&flagCfg.Mode, "mode", flagCfg.Mode, "relay scheduling: concurrent or multiplexed")
	flags.DurationVar(&flagCfg.IdleTimeout, "idle-timeout", 0, "close the session after this long without traffic, 0 disables")
	flags.BoolVar(&flagCfg.Debug, "debug", false, "log every relayed packet")

	rootCmd.AddCommand(NewServerCommand())
	rootCmd.AddCommand(NewClientCommand())
	rootCmd.AddCommand(NewKeygenCommand())
	rootCmd.AddCommand(NewServiceCommand())
}

// loadConfig layers the config file, if any, under the flags that were set
// on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("cipher", func() { cfg.Cipher = flagCfg.Cipher })
	set("key", func() { cfg.Key = flagCfg.Key })
	set("key-file", func() { cfg.KeyFile = flagCfg.KeyFile })
	set("tun-name", func() { cfg.TunName = flagCfg.TunName })
	set("tun-addr", func() { cfg.TunAddr = flagCfg.TunAddr })
	set("mtu", func() { cfg.MTU = flagCfg.MTU })
	set("max-frame", func() { cfg.MaxFrame = flagCfg.MaxFrame })
	set("mode", func() { cfg.Mode = flagCfg.Mode })
	set("idle-timeout", func() { cfg.IdleTimeout = flagCfg.IdleTimeout })
	set("debug", func() { cfg.Debug = flagCfg.Debug })
	set("listen", func() { cfg.Listen = flagCfg.Listen })
	set("port", func() { cfg.Port = flagCfg.Port })
	set("persist", func() { cfg.Persist = flagCfg.Persist })
	set("dial-timeout", func() { cfg.DialTimeout = flagCfg.DialTimeout })

	return cfg, cfg.Validate()
}

func setupLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigchan:
			log.Printf("Received %v signal, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigchan)
	}()
	return ctx, cancel
}

// sessionResult maps how a role ended onto the process outcome. A peer
// hanging up is a normal end of a session.
func sessionResult(err error) error {
	if err == nil || relay.IsDisconnect(err) {
		return nil
	}
	return err
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	diagnostics.Errorf("%s", err)
	switch {
	case errors.Is(err, relay.ErrInterface):
		diagnostics.Hintf("creating a tunnel interface needs root or CAP_NET_ADMIN")
	case errors.Is(err, relay.ErrListen):
		diagnostics.Hintf("is another relay already bound to that port?")
	case errors.Is(err, relay.ErrDial):
		diagnostics.Hintf("check that the server is running and reachable")
	case errors.Is(err, config.ErrInvalid):
		diagnostics.Hintf("see %s --help", rootCmd.Name())
	}
	os.Exit(1)
}
