package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/pawfect/pkg/config"
	"github.com/go-go-golems/pawfect/pkg/logging"
)

// app holds the state shared by all subcommands: the layered configuration
// built in the root's PersistentPreRunE.
type app struct {
	configFile string
	envFiles   []string
	logLevel   string
	logFormat  string

	v *viper.Viper
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pawfect",
		Short:         "Pet-adoption chat: backend server and terminal clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "YAML config file")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, ".env files loaded before reading the environment")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "auto", "log format (auto, console, json)")

	root.AddCommand(
		newServeCommand(a),
		newChatCommand(a),
		newRegisterCommand(a),
		newAddressCommand(a),
		newConfigCommand(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return err
	}
	a.v = v
	if err := bindFlags(v, cmd.Flags(), map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}); err != nil {
		return err
	}
	return logging.Init(v.GetString("log.level"), logging.Format(v.GetString("log.format")))
}

// settings binds the command's flags onto their config keys and decodes the
// effective settings. Flags only win when set explicitly.
func (a *app) settings(cmd *cobra.Command, flags map[string]string) (config.Settings, error) {
	if a.v == nil {
		return config.Settings{}, errors.New("configuration not initialized")
	}
	if err := bindFlags(a.v, cmd.Flags(), flags); err != nil {
		return config.Settings{}, err
	}
	return config.Load(a.v)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, flags map[string]string) error {
	for key, name := range flags {
		f := fs.Lookup(name)
		if f == nil {
			return errors.Errorf("unknown flag %q for %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind --%s", name)
		}
	}
	return nil
}
