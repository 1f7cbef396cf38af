// Command slate inspects, backs up, restores and serves metrics for a slate
// object store described by a config file and SLATE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"slate/internal/blob"
	"slate/internal/config"
	"slate/pkg/domain"
	"slate/pkg/slate"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "slate:", err)
		exitFunc(1)
	}
}

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	modelPath  string
	out        io.Writer
	errOut     io.Writer

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "slate",
		Short:         "Operate a slate object store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&a.modelPath, "model", "m", "", "YAML schema file (overrides config)")
	root.AddCommand(newInspectCmd(a), newBackupCmd(a), newRestoreCmd(a), newServeCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.modelPath != "" {
		cfg.Model = a.modelPath
	}
	logger, err := cfg.Logger(a.errOut)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	a.registry = prometheus.NewRegistry()
	return nil
}

var errNoModel = errors.New("no schema: set --model, model in the config file, or SLATE_MODEL")

// open loads the schema and returns a configured coordinator. The caller
// closes it.
func (a *app) open(ctx context.Context) (*slate.Coordinator, *domain.Model, error) {
	if a.cfg.Model == "" {
		return nil, nil, errNoModel
	}
	model, err := domain.LoadModel(a.cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	c := slate.New(nil,
		slate.WithLogger(a.logger),
		slate.WithMetrics(slate.NewMetrics(a.registry, a.cfg.Metrics.Namespace)),
		slate.WithMaxConcurrentReads(a.cfg.Access.MaxConcurrentReads),
	)
	if err := c.Configure(ctx, model, a.cfg.StoreDescription(a.logger)); err != nil {
		return nil, nil, err
	}
	return c, model, nil
}

func (a *app) blobStore(ctx context.Context) (blob.Store, error) {
	return blob.Open(ctx, a.cfg.Blob)
}

func closeQuietly(ctx context.Context, c *slate.Coordinator, logger *slog.Logger) {
	if err := c.Close(ctx); err != nil {
		logger.Warn("close store", slog.String("error", err.Error()))
	}
}
