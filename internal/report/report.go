// Package report renders build results and journal history for people.
package report

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/compiler"
	"github.com/tombh/rust-gpu-cli/internal/daemon"
)

// Longest diagnostics excerpt printed for a failed build
const maxDiagnosticLines = 40

type styles struct {
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	dim     lipgloss.Style
	stage   lipgloss.Style
	name    lipgloss.Style
	hint    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("8")),
		stage:   r.NewStyle().Foreground(lipgloss.Color("6")).Width(10),
		name:    r.NewStyle().Bold(true),
		hint:    r.NewStyle().Foreground(lipgloss.Color("4")).Italic(true),
	}
}

// Reporter prints one block per build. It is safe for concurrent use.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	crate  string
	styles styles
}

// New creates a reporter writing to out. Paths are shown relative to crate.
func New(out io.Writer, crate string) *Reporter {
	return &Reporter{
		out:    out,
		crate:  crate,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

// Report implements daemon.Reporter
func (r *Reporter) Report(res daemon.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch res.Outcome {
	case daemon.Succeeded:
		r.success(res)
	case daemon.Failed:
		r.failure(res)
	case daemon.Skipped:
		fmt.Fprintf(r.out, "%s %s\n", r.styles.dim.Render("·"), r.styles.dim.Render("up to date"))
	}
}

func (r *Reporter) success(res daemon.Result) {
	s := r.styles

	fmt.Fprintf(r.out, "%s %s %s\n",
		s.success.Render("✓ Built"),
		s.name.Render(fmt.Sprintf("%d entry points", len(res.EntryPoints))),
		s.dim.Render(fmt.Sprintf("in %s (%s)", formatDuration(res.Duration), res.Reason)),
	)

	for _, ep := range res.EntryPoints {
		fmt.Fprintf(r.out, "  %s%s %s\n", s.stage.Render(ep.Stage), ep.Name, s.dim.Render(humanize.IBytes(uint64(ep.Size))))
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(r.out, "  %s\n", s.warning.Render("! "+w))
	}

	for _, p := range res.Paths {
		fmt.Fprintf(r.out, "  %s %s\n", s.dim.Render("→"), r.relative(p))
	}
}

func (r *Reporter) failure(res daemon.Result) {
	s := r.styles

	fmt.Fprintf(r.out, "%s %s %s\n",
		s.failure.Render("✗ Build failed"),
		s.name.Render(res.Kind),
		s.dim.Render(fmt.Sprintf("after %s (%s)", formatDuration(res.Duration), res.Reason)),
	)

	var ce *compiler.CompileError
	if errors.As(res.Err, &ce) {
		if ce.Err != nil {
			fmt.Fprintf(r.out, "  %v\n", ce.Err)
		}

		if d := excerpt(ce.Diagnostics); d != "" {
			fmt.Fprintln(r.out, indent(d))
		}
	} else if res.Err != nil {
		fmt.Fprintf(r.out, "  %v\n", res.Err)
	}

	if hint := Hint(res.Kind); hint != "" {
		fmt.Fprintf(r.out, "  %s\n", s.hint.Render(hint))
	}
}

func (r *Reporter) relative(path string) string {
	if r.crate == "" {
		return path
	}

	rel, err := filepath.Rel(r.crate, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}

	return rel
}

// Hint suggests what to do about a class of failure
func Hint(kind string) string {
	switch kind {
	case compiler.InvalidOptions.String():
		return "Fix the options in your config or flags; the next change will rebuild."
	case compiler.ToolchainMissing.String():
		return "Check that cargo is on PATH and --codegen-backend points at rustc_codegen_spirv."
	case compiler.BackendCrashed.String():
		return "The backend crashed; the last good output was kept."
	case "DuplicateEntryPoint":
		return "Rename one of the entry points or use --packaging multimodule."
	default:
		return ""
	}
}

// History prints journal entries, newest first. When the newest build failed
// and lastGood is set, a closing line points at the build whose output is
// still on disk.
func History(w io.Writer, entries []cache.Entry, lastGood *cache.Entry, now time.Time) {
	s := newStyles(lipgloss.NewRenderer(w))

	if len(entries) == 0 {
		fmt.Fprintln(w, s.dim.Render("No builds recorded"))
		return
	}

	for _, e := range entries {
		mark := s.success.Render("✓")
		detail := fmt.Sprintf("%d entry points", len(e.EntryPoints))
		if !e.Success() {
			mark = s.failure.Render("✗")
			detail = e.ErrorKind
		}

		fmt.Fprintf(w, "%s %s %s %s %s\n",
			mark,
			s.dim.Render(fmt.Sprintf("#%-4d", e.Seq)),
			s.dim.Render(humanize.RelTime(e.Timestamp, now, "ago", "from now")),
			detail,
			s.dim.Render(fmt.Sprintf("(%s, %s, src %s)", e.Reason, formatDuration(e.Duration), shortDigest(e.SourceDigest))),
		)
	}

	if entries[0].Success() {
		return
	}

	if lastGood == nil {
		fmt.Fprintln(w, s.warning.Render("No build has succeeded yet"))
		return
	}

	fmt.Fprintf(w, "%s\n", s.hint.Render(fmt.Sprintf("Output is from build #%d, %s",
		lastGood.Seq, humanize.RelTime(lastGood.Timestamp, now, "ago", "from now"))))
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

// excerpt keeps the tail of long diagnostics, where cargo puts the summary
func excerpt(diagnostics string) string {
	lines := strings.Split(strings.TrimRight(diagnostics, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}

	if len(lines) > maxDiagnosticLines {
		skipped := len(lines) - maxDiagnosticLines
		lines = append([]string{fmt.Sprintf("... %d lines omitted", skipped)}, lines[skipped:]...)
	}

	return strings.Join(lines, "\n")
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
