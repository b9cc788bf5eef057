package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caldog20/tunrelay/config"
	"github.com/caldog20/tunrelay/node/conn"
	"github.com/caldog20/tunrelay/relay"
)

func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client <peer-address>",
		Short: "connect to a server and relay through a tunnel interface",
		Long: "Connects to the server at peer-address, given as ip, ip:port, host or host:port.\n" +
			"The port defaults to --port when the address has none.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			addr, err := conn.ParsePeerAddr(args[0], cfg.Port)
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalid, err)
			}
			setupLogging(cfg.Debug)

			provider, err := newProvider(cfg, clientSteps)
			if err != nil {
				return relay.Wrap(relay.ErrInterface, err)
			}

			logger := log.NewEntry(log.StandardLogger())
			opts, err := cfg.SessionOptions(logger)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client := &relay.Client{
				Provider:    provider,
				Addr:        addr,
				DialTimeout: cfg.DialTimeout,
				Options:     opts,
				Logger:      logger,
			}
			return sessionResult(client.Run(ctx))
		},
	}

	cmd.Flags().Uint16Var(&flagCfg.Port, "port", conn.DefaultPort, "server port when the address has none")
	cmd.Flags().DurationVar(&flagCfg.DialTimeout, "dial-timeout", config.DefaultDialTimeout, "give up connecting after this long")
	return cmd
}
