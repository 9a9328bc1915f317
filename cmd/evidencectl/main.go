package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/server"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	inmem      bool
	dbDriver   string
	dbURL      string
	storageDir string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "evidencectl",
		Short: "Scan, extract, ingest and export evidence documents",
		Long: `evidencectl drives the evidence pipeline from the command line: security-scan and
extract single files, import URLs, ingest whole directories and export structured
tables to XLSX. Configuration comes from the environment (and .env), flags override it.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&opts.inmem, "inmem", false, "use an in-memory SQLite database")
	pf.StringVar(&opts.dbDriver, "db-driver", "", "database driver override (postgres, sqlite)")
	pf.StringVar(&opts.dbURL, "db-url", "", "database DSN override")
	pf.StringVar(&opts.storageDir, "storage-dir", "", "use local blob storage rooted here")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		scanCmd(opts),
		extractCmd(opts),
		importURLCmd(opts),
		ingestDirCmd(opts),
		exportCmd(opts),
		cleanupCmd(opts),
		dbhealthCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = common.WithRequestID(ctx, uuid.NewString())
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code, exit := exitStatus(err)
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", code, err)
		os.Exit(exit)
	}
}

// exitCodes maps gRPC codes onto sysexits(3) values. Unlisted codes exit 1.
var exitCodes = map[codes.Code]int{
	codes.InvalidArgument:    65, // EX_DATAERR
	codes.NotFound:           66, // EX_NOINPUT
	codes.Unavailable:        69, // EX_UNAVAILABLE
	codes.FailedPrecondition: 70, // EX_SOFTWARE
	codes.DeadlineExceeded:   75, // EX_TEMPFAIL
	codes.PermissionDenied:   77, // EX_NOPERM
}

// exitStatus classifies a command error the same way the daemon reports it over gRPC.
func exitStatus(err error) (codes.Code, int) {
	code := status.Code(common.ToStatus(err))
	if exit, ok := exitCodes[code]; ok {
		return code, exit
	}
	return code, 1
}

// load reads the environment config, applies flag overrides and installs the logger.
func (o *globalOptions) load() (*common.Config, *slog.Logger) {
	cfg := common.LoadConfig()
	if o.dbDriver != "" {
		cfg.Database.Driver = o.dbDriver
	}
	if o.dbURL != "" {
		cfg.Database.DSN = o.dbURL
	}
	if o.inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = ":memory:"
	}
	if o.storageDir != "" {
		cfg.Storage.Backend = "local"
		cfg.Storage.LocalDir = o.storageDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	// No queue runs in the CLI, so compression cannot be left to jobs.
	cfg.Storage.DeferCompression = false

	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger
}

// openPipeline validates the config and builds the full pipeline. Callers must closePipeline.
func (o *globalOptions) openPipeline(ctx context.Context) (*server.Pipeline, *common.Config, error) {
	cfg, logger := o.load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	p, err := server.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

func closePipeline(p *server.Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.Close(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
