package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/config"
	natsclient "github.com/capitalize-ai/marketplace-stream/internal/nats"
	"github.com/capitalize-ai/marketplace-stream/internal/scratch"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// app holds what every subcommand needs. It is filled in before a command runs.
type app struct {
	envFile        string
	conversationID string
	verbose        bool

	cfg       *config.Config
	log       *logger.Logger
	client    *api.Client
	workspace *scratch.Workspace

	closers []io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat with the marketplace backend from a terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file to load")
	root.PersistentFlags().StringVarP(&a.conversationID, "conversation", "c", "", "conversation id")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newSendCmd(a),
		newQuickCmd(a),
		newRegenerateCmd(a),
		newHistoryCmd(a),
		newScratchCmd(a),
		newContextCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logger.NewNop()
	if a.verbose {
		if a.log, err = logger.NewDevelopment(); err != nil {
			return err
		}
	}

	a.client = api.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.RequestTimeout, a.log)

	var kv jetstream.KeyValue
	if cfg.ScratchBackend == config.ScratchNATS {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:   cfg.NATSURL,
			Name:  "chatctl",
			Token: cfg.NATSToken,
		}, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closerFunc(nc.Close))
		if kv, err = nc.KeyValue(ctx, cfg.NATSKVBucket); err != nil {
			return err
		}
	}

	backend, closer, err := scratch.OpenBackend(cfg.ScratchBackend, scratch.OpenOptions{
		Dir:       cfg.ScratchDir,
		SQLiteDSN: cfg.ScratchSQLiteDSN,
		KeyValue:  kv,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer)
	a.workspace = scratch.NewWorkspace(backend, a.log)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	a.closers = nil
	if a.log != nil {
		a.log.Sync()
	}
}

func (a *app) requireConversation() error {
	if a.conversationID == "" {
		return fmt.Errorf("--conversation is required")
	}
	return nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
