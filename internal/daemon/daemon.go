// Package daemon runs the build cycle: fingerprint the inputs, decide, and
// when needed compile, package, write and report.
//
// A Loop has exactly one pipeline goroutine, the one inside Run. Triggers
// from any goroutine only mark a cycle as pending, so any number of triggers
// during a build collapse into one follow-up cycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tombh/rust-gpu-cli/internal/artifact"
	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/compiler"
	"github.com/tombh/rust-gpu-cli/internal/fingerprint"
	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/rebuild"
	"github.com/tombh/rust-gpu-cli/internal/writer"
)

// State is the loop's position in a cycle
type State int

const (
	Idle State = iota
	Building
	Reporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Reporting:
		return "reporting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome of one cycle
type Outcome int

const (
	Skipped Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is what a cycle reports to the caller
type Result struct {
	Outcome Outcome
	Reason  string

	// Files written, index last in multimodule mode
	Paths []string

	EntryPoints []artifact.Summary
	Warnings    []string

	// Err is set when Outcome is Failed, Kind names its class
	Err  error
	Kind string

	OptionsDigest fingerprint.Digest
	SourceDigest  fingerprint.Digest

	Duration time.Duration
}

// Settings are the inputs a cycle builds with. The loop copies them at the
// start of every cycle.
type Settings struct {
	Options options.CompileOptions
	Mode    artifact.Mode
	Target  writer.Target
}

// Compiler runs the backend
type Compiler interface {
	Compile(ctx context.Context, opts options.CompileOptions, crateRoot string) (*artifact.BuildResult, error)
}

// Scanner produces the source snapshot of the crate
type Scanner interface {
	Scan() (fingerprint.Snapshot, error)
}

// Writer puts packaged output on disk
type Writer interface {
	Write(out *artifact.Output, target writer.Target) ([]string, error)
}

// Reporter is told about every cycle that did not skip
type Reporter interface {
	Report(Result)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Result)

func (f ReporterFunc) Report(r Result) { f(r) }

// Recorder keeps a journal of builds
type Recorder interface {
	Record(*cache.Entry) error
}

// Config wires a Loop
type Config struct {
	// Crate is the shader crate root
	Crate    string
	Settings Settings

	Compiler Compiler
	Scanner  Scanner
	Writer   Writer

	// Optional
	Reporter Reporter
	Recorder Recorder
	Logger   *slog.Logger
}

// Loop is the build daemon
type Loop struct {
	crate    string
	compiler Compiler
	scanner  Scanner
	writer   Writer
	reporter Reporter
	recorder Recorder
	logger   *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	settings Settings
	state    State
	pending  []string

	// Owned by the pipeline goroutine
	firstRun    bool
	lastOptions *fingerprint.Digest
	lastSource  *fingerprint.Digest
}

// New creates an idle loop that has not built anything yet
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Loop{
		crate:    cfg.Crate,
		compiler: cfg.Compiler,
		scanner:  cfg.Scanner,
		writer:   cfg.Writer,
		reporter: cfg.Reporter,
		recorder: cfg.Recorder,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		settings: cfg.Settings,
		state:    Idle,
		firstRun: true,
	}
}

// State returns the current state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// SetSettings replaces the settings used from the next cycle on
func (l *Loop) SetSettings(s Settings) {
	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()
}

// Settings returns a copy of the current settings
func (l *Loop) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.settings
	s.Options = s.Options.Normalize()
	return s
}

// Trigger requests a cycle. It never blocks; triggers that arrive while a
// cycle is pending are merged into it.
func (l *Loop) Trigger(reason string) {
	l.mu.Lock()
	if len(l.pending) < 16 && !slices.Contains(l.pending, reason) {
		l.pending = append(l.pending, reason)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
}

// takePending claims the pending reasons along with any wake-up queued for
// them, so they start exactly one cycle
func (l *Loop) takePending() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.wake:
	default:
	}

	if len(l.pending) == 0 {
		return "", false
	}

	reason := strings.Join(l.pending, ", ")
	l.pending = nil
	return reason, true
}

// Run builds once immediately and then once per batch of triggers, until
// ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	l.Trigger("startup")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
			reason, ok := l.takePending()
			if !ok {
				continue
			}
			l.cycle(ctx, reason)
		}
	}
}

// RunOnce performs a single cycle synchronously
func (l *Loop) RunOnce(ctx context.Context, reason string) Result {
	return l.cycle(ctx, reason)
}

func (l *Loop) cycle(ctx context.Context, trigger string) Result {
	start := time.Now()

	l.setState(Building)
	defer l.setState(Idle)

	settings := l.Settings()
	log := l.logger.With("crate", l.crate)
	log.Debug("Cycle started", "trigger", trigger)

	res := Result{}

	optDigest, err := fingerprint.Options(settings.Options, fingerprint.Output{
		Path:      settings.Target.Path,
		Index:     settings.Target.Index,
		Packaging: settings.Mode.String(),
	})
	if err != nil {
		return l.finish(ctx, start, res, err)
	}
	res.OptionsDigest = optDigest

	snapshot, err := l.scanner.Scan()
	if err != nil {
		return l.finish(ctx, start, res, fmt.Errorf("scanning sources: %w", err))
	}
	res.SourceDigest = fingerprint.Source(snapshot)

	decision, why := rebuild.Decide(rebuild.Input{
		CurrentOptions: res.OptionsDigest,
		CurrentSource:  res.SourceDigest,
		LastOptions:    l.lastOptions,
		LastSource:     l.lastSource,
		FirstRun:       l.firstRun,
	})
	res.Reason = why

	if decision == rebuild.Skip {
		log.Debug("Up to date, skipping build", "trigger", trigger, "options", res.OptionsDigest.Short(), "source", res.SourceDigest.Short())
		res.Outcome = Skipped
		res.Duration = time.Since(start)
		return res
	}

	log.Info("Building", "reason", why, "files", len(snapshot.Files))

	built, err := l.compiler.Compile(ctx, settings.Options, l.crate)
	if err != nil {
		return l.finish(ctx, start, res, err)
	}
	built.OptionsFingerprint = res.OptionsDigest
	built.SourceFingerprint = res.SourceDigest

	out, err := artifact.Package(built, settings.Mode)
	if err != nil {
		return l.finish(ctx, start, res, err)
	}
	res.EntryPoints = out.Summaries()
	res.Warnings = out.Warnings

	paths, err := l.writer.Write(out, settings.Target)
	if err != nil {
		return l.finish(ctx, start, res, err)
	}
	res.Paths = paths

	opts, src := res.OptionsDigest, res.SourceDigest
	l.lastOptions, l.lastSource = &opts, &src
	l.firstRun = false

	return l.finish(ctx, start, res, nil)
}

// finish completes a non-skipped cycle: it reports and records the result
func (l *Loop) finish(ctx context.Context, start time.Time, res Result, err error) Result {
	res.Duration = time.Since(start)

	if err != nil {
		res.Outcome = Failed
		res.Err = err
		res.Kind = KindOf(err)

		// Shutdown killed the backend; that is not a build result
		if ctx.Err() != nil {
			return res
		}
	} else {
		res.Outcome = Succeeded
	}

	l.setState(Reporting)

	if l.reporter != nil {
		l.reporter.Report(res)
	}

	if l.recorder != nil {
		if err := l.recorder.Record(l.journalEntry(res)); err != nil {
			l.logger.Warn("Could not record build", "error", err)
		}
	}

	return res
}

func (l *Loop) journalEntry(res Result) *cache.Entry {
	entry := &cache.Entry{
		Crate:         l.crate,
		OptionsDigest: res.OptionsDigest.String(),
		SourceDigest:  res.SourceDigest.String(),
		Outcome:       cache.OutcomeSucceeded,
		Reason:        res.Reason,
		Outputs:       res.Paths,
		Warnings:      res.Warnings,
		Timestamp:     time.Now(),
		Duration:      res.Duration,
	}

	for _, ep := range res.EntryPoints {
		entry.EntryPoints = append(entry.EntryPoints, ep.Name)
	}

	if res.Outcome == Failed {
		entry.Outcome = cache.OutcomeFailed
		entry.ErrorKind = res.Kind
		entry.Error = res.Err.Error()
	}

	return entry
}

// KindOf names the class of a pipeline error
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}

	var dup *artifact.DuplicateEntryPointError
	if errors.As(err, &dup) {
		return dup.Kind()
	}

	var we *writer.Error
	if errors.As(err, &we) {
		return we.Kind()
	}

	return "IOError"
}
