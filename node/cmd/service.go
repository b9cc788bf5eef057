package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caldog20/tunrelay/config"
	"github.com/caldog20/tunrelay/node/conn"
)

var logger service.Logger

// program runs the server role under the service manager. A service keeps
// accepting peers, so Persist is always on.
type program struct {
	cfg    config.Config
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	cfg := p.cfg
	cfg.Persist = true

	go p.run(ctx, cfg)
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

func (p *program) run(ctx context.Context, cfg config.Config) {
	defer close(p.done)

	err := runServer(ctx, cfg)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.WithError(err).Error("server role exited")
		if logger != nil {
			logger.Error(err)
		}
	}
	// let the service manager restart us
	os.Exit(1)
}

func NewService(program service.Interface, args []string) (service.Service, error) {
	options := make(service.KeyValue)
	options["Restart"] = "on-failure"
	svcConfig := &service.Config{
		Name:        "tunrelay",
		DisplayName: "tunrelay server",
		Description: "Point-to-point TUN over TCP relay",
		Arguments:   args,
		Option:      options,
	}

	return service.New(program, svcConfig)
}

func NewServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "manage the server role as a system service",
		Long: "Flags given to install are stored in the service definition and used by\n" +
			"the service on every start. Pass keys with --key-file, not --key.",
	}
	cmd.PersistentFlags().StringVar(&flagCfg.Listen, "listen", "", "address to listen on, all interfaces when empty")
	cmd.PersistentFlags().Uint16Var(&flagCfg.Port, "port", conn.DefaultPort, "tcp port to listen on")

	cmd.AddCommand(
		newServiceAction("install", "install the service with the given flags", func(s service.Service) error { return s.Install() }),
		newServiceAction("uninstall", "uninstall the service", func(s service.Service) error { return s.Uninstall() }),
		newServiceAction("start", "start the installed service", func(s service.Service) error { return s.Start() }),
		newServiceAction("stop", "stop the installed service", func(s service.Service) error { return s.Stop() }),
		NewServiceRunCommand(),
	)
	return cmd
}

func newServiceAction(name, short string, action func(service.Service) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcArgs, err := serviceArgs(cmd)
			if err != nil {
				return err
			}
			svc, err := NewService(&program{}, svcArgs)
			if err != nil {
				return err
			}
			if err := action(svc); err != nil {
				return err
			}
			diagnostics.Successf("service %s: ok", name)
			return nil
		},
	}
}

// NewServiceRunCommand is what the service manager invokes.
func NewServiceRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "run as a service, called by the service manager",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg.Debug)

			prg := &program{cfg: cfg}
			svc, err := NewService(prg, nil)
			if err != nil {
				return err
			}

			logger, err = svc.Logger(nil)
			if err != nil {
				log.WithError(err).Warn("no service logger, using stderr")
			}
			return svc.Run()
		},
	}
}

// serviceArgs turns the flags set on the command line into the arguments the
// service manager starts "service run" with. Paths are made absolute since
// the service does not run from the caller's directory.
func serviceArgs(cmd *cobra.Command) ([]string, error) {
	args := []string{"service", "run"}

	var err error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}

		value := f.Value.String()
		switch f.Name {
		case "key":
			err = fmt.Errorf("%w: --key would be stored in the service definition, use --key-file", config.ErrInvalid)
			return
		case "config", "key-file":
			if value, err = filepath.Abs(value); err != nil {
				return
			}
		}
		args = append(args, "--"+f.Name+"="+value)
	})
	if err != nil {
		return nil, err
	}
	return args, nil
}
