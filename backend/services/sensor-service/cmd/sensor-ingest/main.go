package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"buildingsense/backend/libs/logging"
	"buildingsense/backend/services/sensor-service/internal/app"
	"buildingsense/backend/services/sensor-service/internal/config"
	"buildingsense/backend/services/sensor-service/internal/models"
)

// Exit statuses. exitRetryable (EX_TEMPFAIL) tells a supervisor to relaunch with the same
// arguments; the run is safe to repeat.
const (
	exitOK        = 0
	exitFatal     = 1
	exitUsage     = 2
	exitRetryable = 75
)

var errUsage = errors.New("usage")

type options struct {
	job     app.Job
	sensors string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}
	if opts.sensors != "" {
		cfg.Ingest.Sensors = opts.sensors
	}

	logger, err := logging.NewLogger("sensor-ingest")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}
	defer logger.Sync() // best-effort flush

	application, err := app.NewIngest(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return exitCode(err)
	}
	defer application.Close()

	if err := application.Run(ctx, opts.job); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestion stopped with error", zap.Error(err))
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	if errors.Is(err, models.ErrRetryable) {
		return exitRetryable
	}
	return exitFatal
}

func parseArgs(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("sensor-ingest", flag.ContinueOnError)
	fs.SetOutput(output)

	recent := fs.Bool("recent", false, "store the latest reading of every sensor")
	all := fs.Bool("all", false, "backfill every reading since the first known one")
	from := fs.String("from", "", "backfill from this epoch millisecond timestamp")
	watch := fs.Bool("watch", false, "store latest readings every poll interval until interrupted")
	syncCatalog := fs.Bool("sync-catalog", false, "refresh buildings, rooms and sensors from the source first")
	sensors := fs.String("sensors", "", `sensor numbers to ingest: "all", "3" or "1,2,5"`)

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	opts := options{job: app.Job{SyncCatalog: *syncCatalog}, sensors: *sensors}
	modes := 0
	if *recent {
		modes++
		opts.job.Mode = app.ModeRecent
	}
	if *all {
		modes++
		opts.job.Mode = app.ModeAll
	}
	if *from != "" {
		modes++
		ms, err := strconv.ParseInt(*from, 10, 64)
		if err != nil || ms <= 0 {
			return options{}, fmt.Errorf("%w: --from wants a positive epoch millisecond value, got %q", errUsage, *from)
		}
		opts.job.Mode = app.ModeFrom
		opts.job.FromMS = ms
	}
	if *watch {
		modes++
		opts.job.Mode = app.ModeWatch
	}

	switch {
	case modes > 1:
		return options{}, fmt.Errorf("%w: --recent, --all, --from and --watch are mutually exclusive", errUsage)
	case modes == 0 && !*syncCatalog:
		return options{}, fmt.Errorf("%w: one of --recent, --all, --from, --watch or --sync-catalog is required", errUsage)
	}
	if *sensors != "" {
		if _, err := models.ParseSelector(*sensors); err != nil {
			return options{}, fmt.Errorf("%w: --sensors: %v", errUsage, err)
		}
	}
	return opts, nil
}
