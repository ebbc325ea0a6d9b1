// Package cli implements the supportmesh command line interface.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/supportmesh"
	"github.com/hupe1980/supportmesh/config"
	"github.com/hupe1980/supportmesh/logging"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

type app struct {
	conf   *config.Config
	logger logging.Logger
	mesh   *supportmesh.SupportMesh
	now    func() time.Time
}

// open builds the mesh on first use so commands can adjust conf first.
func (a *app) open() (*supportmesh.SupportMesh, error) {
	if a.mesh != nil {
		return a.mesh, nil
	}

	mesh, err := supportmesh.New(func(o *supportmesh.Options) {
		o.Config = a.conf
		o.Logger = a.logger
		o.Now = a.now
	})
	if err != nil {
		return nil, err
	}
	a.mesh = mesh

	return mesh, nil
}

func (a *app) close() error {
	if a.mesh == nil {
		return nil
	}
	return a.mesh.Close()
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		prefix   string
		logLevel string
		backend  string
	)

	a := &app{now: time.Now}

	rootCmd := &cobra.Command{
		Use:           "supportmesh",
		Short:         "Multi-agent customer support orchestration",
		Long:          "supportmesh routes customer requests through routing, support and escalation agents in PARALLEL, SEQUENTIAL or LOOP mode, with pausable sessions, compacted memory and event traces.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(prefix, envFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				conf.LogLevel = logLevel
			}
			if backend != "" {
				conf.Backend = backend
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			logCfg := conf.Logging()
			logCfg.Output = cmd.ErrOrStderr()
			logger, err := logging.New(logCfg)
			if err != nil {
				return err
			}

			a.conf, a.logger = conf, logger
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load settings from a .env or YAML file (default: ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&prefix, "env-prefix", config.DefaultPrefix, "Environment variable prefix")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend (memory, redis)")

	rootCmd.AddCommand(
		newProcessCmd(a),
		newPauseCmd(a),
		newResumeCmd(a),
		newMetricsCmd(a),
		newDemoCmd(a),
	)

	return rootCmd
}
