package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/romshark/intlbuild/internal/config"
	"github.com/romshark/intlbuild/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "ERR:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	dir        string
	configPath string
	format     string
	locales    string
	quiet      bool
	verbose    bool
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	var g globalFlags

	root := &cobra.Command{
		Use:           "intlbuild",
		Short:         "Extract messages, sync catalogs and build client message manifests.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "project directory")
	pf.StringVarP(&g.configPath, "config", "c", "",
		"configuration file (default: intlbuild.{yaml,yml,toml,json} in the project directory)")
	pf.StringVarP(&g.format, "format", "f", "", "catalog format, overrides the configuration")
	pf.StringVarP(&g.locales, "locales", "l", "",
		"comma separated target locales, overrides the configuration")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "disable all console logging")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose console logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "extract",
			Short: "Scan sources and update the catalogs of all locales.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPipeline(cmd.Context(), g, stderr, runExtract)
			},
		},
		newManifestCmd(&g, stderr),
		newCompileCmd(&g, stderr),
	)

	root.SetArgs(args)
	root.SetOut(stderr)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newManifestCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build the client message manifest of all route entries.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd.Context(), *g, stderr,
				func(ctx context.Context, p *pipeline.Pipeline, _ zerolog.Logger) error {
					if out != "" {
						p.Config().Manifest = out
					}
					_, err := p.WriteManifest(ctx)
					return err
				})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "manifest output path, overrides the configuration")
	return cmd
}

func newCompileCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Write the precompiled catalog of every locale as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd.Context(), *g, stderr,
				func(ctx context.Context, p *pipeline.Pipeline, _ zerolog.Logger) error {
					dir := out
					if dir == "" {
						dir = p.Config().Path(filepath.Join(p.Config().CacheDir, "compiled"))
					}
					_, err := p.CompileCatalogs(ctx, dir)
					return err
				})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default: <cacheDir>/compiled)")
	return cmd
}

func newLogger(g globalFlags, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case g.quiet:
		level = zerolog.Disabled
	case g.verbose:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func loadConfig(fs afero.Fs, g globalFlags) (*config.Config, error) {
	path := g.configPath
	if path == "" {
		var err error
		path, err = config.Find(fs, g.dir)
		if errors.Is(err, config.ErrNotFound) {
			path = ""
		} else if err != nil {
			return nil, err
		}
	}
	conf, err := config.Load(fs, path, nil)
	if err != nil {
		return nil, err
	}
	if path == "" {
		conf.BaseDir = g.dir
	}
	if g.format != "" {
		conf.Format = g.format
	}
	if g.locales != "" {
		if conf.Locales, err = config.ParseLocales(g.locales); err != nil {
			return nil, fmt.Errorf("%w: --locales: %w", config.ErrInvalidConfig, err)
		}
	}
	return conf, nil
}

type command func(ctx context.Context, p *pipeline.Pipeline, log zerolog.Logger) error

func withPipeline(ctx context.Context, g globalFlags, stderr io.Writer, fn command) (err error) {
	log := newLogger(g, stderr)
	fs := afero.NewOsFs()
	conf, err := loadConfig(fs, g)
	if err != nil {
		return err
	}

	start := time.Now()
	p, err := pipeline.New(ctx, conf, pipeline.Options{
		FS:              fs,
		Log:             log,
		PersistentCache: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, p.Close(context.WithoutCancel(ctx)))
	}()

	if err := fn(ctx, p, log); err != nil {
		return err
	}
	log.Debug().Dur("took", time.Since(start)).Msg("done")
	return nil
}

func runExtract(ctx context.Context, p *pipeline.Pipeline, log zerolog.Logger) error {
	r, err := p.Extract(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("messages", r.Messages).
		Strs("locales", r.Written).
		Msg("catalogs updated")
	return nil
}
