// Package ui renders terminal output for the asana2sql commands.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#58a6ff"}
	passColor   = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	failColor   = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}
)

// Printer writes styled output to one writer.
type Printer struct {
	w     io.Writer
	width int

	accent lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
}

// New returns a Printer for w. Colour follows the terminal's capabilities
// and NO_COLOR; plain forces uncoloured output.
func New(w io.Writer, plain bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if plain {
		r.SetColorProfile(termenv.Ascii)
	}
	p := &Printer{
		w:      w,
		accent: r.NewStyle().Foreground(accentColor).Bold(true),
		pass:   r.NewStyle().Foreground(passColor).Bold(true),
		warn:   r.NewStyle().Foreground(warnColor).Bold(true),
		fail:   r.NewStyle().Foreground(failColor).Bold(true),
		muted:  r.NewStyle().Foreground(mutedColor),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = width
		}
	}
	return p
}

var std = New(os.Stdout, false)

// RenderAccent styles s as a heading marker.
func RenderAccent(s string) string { return std.accent.Render(s) }

// RenderPass styles s as a success marker.
func RenderPass(s string) string { return std.pass.Render(s) }

// RenderWarn styles s as a warning marker.
func RenderWarn(s string) string { return std.warn.Render(s) }

// RenderFail styles s as a failure marker.
func RenderFail(s string) string { return std.fail.Render(s) }

func (p *Printer) Accent(s string) string { return p.accent.Render(s) }
func (p *Printer) Pass(s string) string   { return p.pass.Render(s) }
func (p *Printer) Warn(s string) string   { return p.warn.Render(s) }
func (p *Printer) Fail(s string) string   { return p.fail.Render(s) }
func (p *Printer) Muted(s string) string  { return p.muted.Render(s) }

// Printf writes formatted text.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Heading writes a marked section title.
func (p *Printer) Heading(marker, title string) {
	fmt.Fprintf(p.w, "\n%s %s\n\n", p.accent.Render(marker), title)
}

// Success writes a line marked as passed.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.pass.Render("✓"), fmt.Sprintf(format, args...))
}

// Warning writes a line marked as a warning.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.warn.Render("⚠"), fmt.Sprintf(format, args...))
}

// Failure writes a line marked as failed.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.fail.Render("✗"), fmt.Sprintf(format, args...))
}

// KV writes aligned key/value lines.
func (p *Printer) KV(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		key := kv[0] + ":" + strings.Repeat(" ", width-len(kv[0]))
		fmt.Fprintf(p.w, "   %s %s\n", p.muted.Render(key), kv[1])
	}
}

// Table writes rows under headers with a rounded border, shrunk to the
// terminal width when it would overflow.
func (p *Printer) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	out := t.Render()
	if p.width > 0 && lipgloss.Width(out) > p.width {
		out = t.Width(p.width).Render()
	}
	fmt.Fprintln(p.w, out)
}
