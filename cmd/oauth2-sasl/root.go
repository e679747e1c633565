package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/settings"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configFile string
	useEnv     bool
	debug      bool
	set        []string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "oauth2-sasl",
		Short:         "Inspect and exercise OAuth 2.0 bearer token SASL settings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "YAML settings file with oauth2_* keys")
	root.PersistentFlags().BoolVar(&g.useEnv, "env", false, "read OAUTH2_* environment variables (these win over the file)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "log at debug level")
	root.PersistentFlags().StringArrayVar(&g.set, "set", nil, "override a setting, key=value (repeatable)")

	root.AddCommand(
		newConfigCmd(g),
		newDiscoverCmd(g),
		newValidateCmd(g),
		newEncodeCmd(),
		newExchangeCmd(g),
	)
	return root
}

// source assembles settings from --set, the environment and the file, in
// that order of precedence.
func (g *globalFlags) source() (settings.Source, error) {
	overrides := settings.Map{}
	for _, kv := range g.set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		overrides[strings.TrimSpace(k)] = v
	}
	if g.debug {
		overrides[config.KeyDebug] = "yes"
	}
	srcs := []settings.Source{overrides}
	if g.useEnv {
		env, err := settings.FromEnv()
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, env)
	}
	if g.configFile != "" {
		file, err := settings.LoadFile(g.configFile)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, file)
	}
	return settings.Chain(srcs...), nil
}

func (g *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if g.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	src, err := g.source()
	if err != nil {
		return nil, err
	}
	return config.Load(src, config.WithLogger(g.logger(cmd)))
}
