// Package pipeline runs the lap/telemetry join for every configured
// (track, race, car) unit and writes one dataset per unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"laptel/internal/config"
	"laptel/internal/discovery"
	"laptel/internal/sink"
	"laptel/internal/storage"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ErrUnitsFailed is returned (wrapped) by a best-effort run in which at least
// one unit failed. The Report lists the failures.
var ErrUnitsFailed = errors.New("units failed")

// Runner wires configuration to resources and hands the units to an Engine.
// Every field is a seam; NewDefaultRunner fills them for production use.
type Runner struct {
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewLogger     func(w io.Writer) Logger
	OpenFS        func(dir string) fs.FS
	ExpandEnv     func(s string) string
	NewRunID      func() string
}

// NewDefaultRunner returns a Runner backed by the storage registry, the OS
// filesystem and a stderr logger.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		NewLogger:     func(w io.Writer) Logger { return log.New(w, "", log.LstdFlags) },
		OpenFS:        os.DirFS,
		ExpandEnv:     os.ExpandEnv,
		NewRunID:      uuid.NewString,
	}
}

// Run validates cfg, resolves the unit list (discovering it when cfg.Tracks
// is empty), opens the sinks and processes every unit.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Report, error) {
	for _, iss := range config.ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityError {
			return Report{}, fmt.Errorf("invalid config: %s", iss)
		}
	}
	cfg = cfg.Clone()

	logger := r.logger()
	runID := r.runID()
	fsys := r.openFS(cfg.Input.Dir)

	if len(cfg.Tracks) == 0 {
		start := time.Now()
		layout, err := discovery.Scan(ctx, fsys, ".", cfg.Input.Parser)
		if err != nil {
			return Report{RunID: runID}, err
		}
		cfg.Tracks = layout.Tracks
		logger.Printf("stage=discover ok tracks=%d skipped_races=%d skipped_ids=%d duration=%s",
			len(layout.Tracks), layout.SkippedRaces, layout.SkippedIDs, durMS(start))
	}

	var repo storage.Repository
	if cfg.Output.HasFormat(sink.FormatSQL) {
		expand, newRepo := r.ExpandEnv, r.NewRepository
		if expand == nil {
			expand = os.ExpandEnv
		}
		if newRepo == nil {
			newRepo = storage.New
		}
		var err error
		repo, err = newRepo(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: expand(cfg.Storage.DSN)})
		if err != nil {
			return Report{RunID: runID}, fmt.Errorf("storage repo: %w", err)
		}
		defer repo.Close()
	}

	sinks, err := sink.New(cfg.Output, cfg.Storage, repo, runID)
	if err != nil {
		return Report{RunID: runID}, err
	}

	logger.Printf("stage=run start run_id=%s tracks=%d formats=%v workers=%d fail_fast=%t",
		runID, len(cfg.Tracks), cfg.Output.Formats, cfg.Runtime.Workers, cfg.Runtime.FailFast)

	e := &Engine{FS: fsys, Sinks: sinks, Logger: logger}
	rep, err := e.Run(ctx, cfg)
	rep.RunID = runID
	return rep, err
}

func (r *Runner) logger() Logger {
	if r.NewLogger == nil {
		return log.New(discardWriter{}, "", 0)
	}
	return r.NewLogger(os.Stderr)
}

func (r *Runner) runID() string {
	if r.NewRunID == nil {
		return uuid.NewString()
	}
	return r.NewRunID()
}

func (r *Runner) openFS(dir string) fs.FS {
	if r.OpenFS == nil {
		return os.DirFS(dir)
	}
	return r.OpenFS(dir)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
