package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console prints human-facing progress lines. It is safe for concurrent use.
// A nil Console discards everything.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	pass, skip, fail, dim, bold lipgloss.Style
}

// NewConsole returns a Console writing to w. Colors are enabled only when w
// is a terminal.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		out:  w,
		pass: r.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true),
		skip: r.NewStyle().Foreground(lipgloss.Color("#FFC107")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true),
		dim:  r.NewStyle().Faint(true),
		bold: r.NewStyle().Bold(true),
	}
}

// Verdict prints `[PASS] rel`, `[SKIP] rel (detail)` or `[FAIL] rel (detail)`.
func (c *Console) Verdict(verdict, rel, detail string) {
	if c == nil {
		return
	}
	var tag string
	switch verdict {
	case "OK":
		tag = c.pass.Render("[PASS]")
	case "SKIP":
		tag = c.skip.Render("[SKIP]")
	default:
		tag = c.fail.Render("[" + verdict + "]")
	}
	line := tag + " " + rel
	if detail != "" {
		line += " " + c.dim.Render("("+detail+")")
	}
	c.println(line)
}

// Timing prints the per-case timing line.
func (c *Console) Timing(mode, rel string, ourSec, refSec, ratio float64) {
	if c == nil {
		return
	}
	c.println(c.dim.Render(fmt.Sprintf("[TIME %s] %s  our=%.3fs  ref=%.3fs  ratio=%.2fx", mode, rel, ourSec, refSec, ratio)))
}

// Headline prints an emphasized line, used for run banners and summaries.
func (c *Console) Headline(format string, args ...any) {
	if c == nil {
		return
	}
	c.println(c.bold.Render(fmt.Sprintf(format, args...)))
}

// Printf prints an unstyled line.
func (c *Console) Printf(format string, args ...any) {
	if c == nil {
		return
	}
	c.println(fmt.Sprintf(format, args...))
}

func (c *Console) println(s string) {
	if c == nil || c.out == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
