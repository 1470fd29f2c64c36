// Command super8 renders a directory of clips into one Super 8 / Kodak 50D styled film.
//
// Usage:
//
//	super8 [render] -src <dir> [-assets <dir>] [-o <file>] [-config <file>]
//	super8 preview -src <file> [-at <sec>] -o <file.png>
//	super8 check [-config <file>]
//	super8 init [-o super8.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xob0t/super8/pkg/canvas"
	"github.com/xob0t/super8/pkg/clip"
	"github.com/xob0t/super8/pkg/config"
	"github.com/xob0t/super8/pkg/logging"
	"github.com/xob0t/super8/pkg/media"
	"github.com/xob0t/super8/pkg/render"
	"github.com/xob0t/super8/pkg/timeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLI()
	var err error
	switch os.Args[1] {
	case "render":
		err = app.runRender(ctx, os.Args[2:])
	case "preview":
		err = app.runPreview(ctx, os.Args[2:])
	case "check":
		err = runCheck(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		// Default: render mode (all flags on root).
		err = app.runRender(ctx, os.Args[1:])
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		stop()
		app.fatal(err)
	}
}

// cli holds the logger that reports a failed command. It starts as a
// console logger and is swapped for the configured one once a command has
// parsed its flags.
type cli struct {
	log *zap.Logger
}

func newCLI() *cli {
	return &cli{log: zap.Must(logging.New("info", true))}
}

// common holds the flags shared by render and preview.
type common struct {
	configPath string
	assets     string
	output     string
	logLevel   string
	jsonLogs   bool
}

func (c *common) register(fs *flag.FlagSet, outputHelp string) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file (optional)")
	fs.StringVar(&c.assets, "assets", "", "Directory holding the grain, leak and effect clips")
	fs.StringVar(&c.output, "o", "", outputHelp)
	fs.StringVar(&c.output, "output", "", outputHelp)
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&c.jsonLogs, "json", false, "Log as JSON instead of console text")
}

// setup loads the config, applies flag overrides and builds the logger.
func (c *common) setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if c.assets != "" {
		cfg.Assets.Dir = c.assets
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(c.logLevel, !c.jsonLogs)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func (a *cli) runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("super8", flag.ContinueOnError)
	var (
		opts   common
		srcDir string
	)
	fs.StringVar(&srcDir, "src", "", "Directory of source .mov/.mp4 clips")
	opts.register(fs, "Output video file (default from config)")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return err
	}
	if srcDir == "" {
		return errors.New("source directory is required (-src)")
	}

	cfg, log, err := opts.setup()
	if err != nil {
		return err
	}
	a.log = log
	defer log.Sync()
	if opts.output != "" {
		cfg.Output = opts.output
	}

	if _, err := media.CheckTools(ctx); err != nil {
		return err
	}
	b, err := timeline.NewBuilder(cfg, clip.FFmpeg{}, log)
	if err != nil {
		return err
	}
	if err := b.CheckAssets(); err != nil {
		return err
	}
	sources, err := timeline.DiscoverSources(srcDir, log)
	if err != nil {
		return err
	}
	tl, err := b.Build(ctx, sources)
	if err != nil {
		return err
	}

	if err := render.New(cfg, clip.FFmpeg{}, log).Render(ctx, tl, cfg.Output); err != nil {
		return err
	}
	fmt.Printf("Done: %s\n", cfg.Output)
	return nil
}

func (a *cli) runPreview(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	var (
		opts common
		src  string
		at   float64
	)
	fs.StringVar(&src, "src", "", "Source clip to preview")
	fs.Float64Var(&at, "at", 0, "Timestamp in seconds")
	opts.register(fs, "Output PNG file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if src == "" || opts.output == "" {
		return errors.New("preview needs -src and -o")
	}

	cfg, log, err := opts.setup()
	if err != nil {
		return err
	}
	a.log = log
	defer log.Sync()

	b, err := timeline.NewBuilder(cfg, clip.FFmpeg{}, log)
	if err != nil {
		return err
	}
	if err := b.CheckAssets(); err != nil {
		return err
	}
	styled, err := b.StyleClip(ctx, src)
	if err != nil {
		return err
	}
	img, err := render.New(cfg, clip.FFmpeg{}, log).Frame(ctx, styled, at)
	if err != nil {
		return err
	}
	if err := canvas.WritePNG(opts.output, img); err != nil {
		return err
	}
	fmt.Printf("Done: %s\n", opts.output)
	return nil
}

func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var configPath, assets string
	fs.StringVar(&configPath, "config", "", "YAML config file (optional)")
	fs.StringVar(&assets, "assets", "", "Asset directory override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tools, toolErr := media.CheckTools(ctx)
	for _, t := range tools {
		if t.Err != nil {
			fmt.Printf("  %-8s MISSING  %v\n", t.Name, t.Err)
			continue
		}
		fmt.Printf("  %-8s ok       %s (%s)\n", t.Name, t.Path, t.Version)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if assets != "" {
		cfg.Assets.Dir = assets
	}
	b, err := timeline.NewBuilder(cfg, clip.FFmpeg{}, nil)
	if err != nil {
		return err
	}
	w, h := b.Canvas().X, b.Canvas().Y
	fmt.Printf("  canvas   %dx%d @ %g fps\n", w, h, cfg.FPS)
	assetErr := b.CheckAssets()
	if assetErr != nil {
		fmt.Printf("  assets   MISSING  %v\n", assetErr)
	} else {
		fmt.Printf("  assets   ok       %s\n", cfg.Assets.Dir)
	}

	if toolErr != nil {
		return toolErr
	}
	return assetErr
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var out string
	var force bool
	fs.StringVar(&out, "o", "super8.yaml", "Output path for the sample config")
	fs.BoolVar(&force, "force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(out); err == nil && !force {
		return errors.Errorf("%s already exists (use -force to overwrite)", out)
	}
	buf, err := config.Default().Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, buf, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}

	fmt.Printf("Created: %s\n", out)
	fmt.Printf("Run: super8 -src <clips> -config %s\n", out)
	return nil
}

// report logs a command failure.
func (a *cli) report(err error) {
	a.log.Error("command failed", zap.Error(err))
	_ = a.log.Sync()
}

func (a *cli) fatal(err error) {
	a.report(err)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`super8: Super 8 / Kodak 50D film-look renderer

USAGE:
    super8 [render] -src <dir> [options]
    super8 preview -src <file> -at <sec> -o <file.png> [options]
    super8 check [-config <file>] [-assets <dir>]
    super8 init [-o super8.yaml] [-force]

RENDER:
    -src <dir>             Directory of .mov/.mp4 clips, ordered by the first
                           number in each file name
    -assets <dir>          Directory with "Super 8 Grain.mp4",
                           "Film Light Leak.mp4" and "Super 8 24fps.mp4"
    -o, -output <file>     Output video (default ~/super8_output/Kodak50D_super8mm.mp4)
    -config <file>         YAML config overriding the defaults
    -log-level <level>     debug, info, warn, error (default: info)
    -json                  Log as JSON

PREVIEW:
    Renders one styled frame of a single clip to PNG.

CHECK:
    Verifies ffmpeg/ffprobe, the config and the asset files.

EXAMPLES:
    super8 init
    super8 check -assets ./fx
    super8 -src ./clips -assets ./fx -o film.mp4
    super8 preview -src ./clips/clip1.mov -assets ./fx -at 2.5 -o still.png
`)
}
