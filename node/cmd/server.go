package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caldog20/tunrelay/config"
	"github.com/caldog20/tunrelay/node/conn"
	"github.com/caldog20/tunrelay/node/tun"
	"github.com/caldog20/tunrelay/relay"
)

func NewServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "accept one peer and relay it through a tunnel interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg.Debug)

			ctx, cancel := signalContext()
			defer cancel()

			return sessionResult(runServer(ctx, cfg))
		},
	}

	cmd.Flags().StringVar(&flagCfg.Listen, "listen", "", "address to listen on, all interfaces when empty")
	cmd.Flags().Uint16Var(&flagCfg.Port, "port", conn.DefaultPort, "tcp port to listen on")
	cmd.Flags().BoolVar(&flagCfg.Persist, "persist", false, "keep accepting peers after a session ends")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := log.NewEntry(log.StandardLogger())

	provider, err := newProvider(cfg, serverSteps)
	if err != nil {
		return relay.Wrap(relay.ErrInterface, err)
	}

	opts, err := cfg.SessionOptions(logger)
	if err != nil {
		return err
	}

	l, err := conn.Listen(ctx, cfg.ListenAddr())
	if err != nil {
		return relay.Wrap(relay.ErrListen, err)
	}

	srv := &relay.Server{
		Provider: provider,
		Listener: l,
		Options:  opts,
		Persist:  cfg.Persist,
		Logger:   logger,
	}
	return srv.Serve(ctx)
}

// hintingProvider prints the host setup the operator still has to do after
// each device is opened. Without an address that includes the interface
// itself; roleSteps adds what the server or client needs on top.
type hintingProvider struct {
	tun.Provider
	configured bool
	roleSteps  func(name string) []string
}

func (p hintingProvider) Open() (tun.Device, error) {
	dev, err := p.Provider.Open()
	if err != nil {
		return nil, err
	}

	var steps []string
	if !p.configured {
		steps = tun.SetupHint(dev.Name(), dev.MTU())
	}
	if p.roleSteps != nil {
		steps = append(steps, p.roleSteps(dev.Name())...)
	}
	if len(steps) > 0 {
		diagnostics.Steps("set up "+dev.Name()+" before traffic can flow:", steps)
	}
	return dev, nil
}

func serverSteps(string) []string {
	return []string{tun.ForwardingHint()}
}

func clientSteps(name string) []string {
	return []string{tun.RouteHint(name)}
}

func newProvider(cfg config.Config, roleSteps func(string) []string) (tun.Provider, error) {
	opts, err := cfg.TunOptions()
	if err != nil {
		return nil, err
	}
	provider, err := tun.NewProvider(opts)
	if err != nil {
		return nil, err
	}
	return hintingProvider{
		Provider:   provider,
		configured: opts.Address.IsValid(),
		roleSteps:  roleSteps,
	}, nil
}
