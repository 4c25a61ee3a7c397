package diagfmt

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"polybind/internal/diag"
	"polybind/internal/source"
)

type palette struct {
	err, warn, info *color.Color
	note, fix       *color.Color
	path, gutter    *color.Color
	caret           *color.Color
	del, add        *color.Color
}

func newPalette(on bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		err:    mk(color.FgRed, color.Bold),
		warn:   mk(color.FgYellow, color.Bold),
		info:   mk(color.FgCyan, color.Bold),
		note:   mk(color.FgBlue, color.Bold),
		fix:    mk(color.FgGreen, color.Bold),
		path:   mk(color.Bold),
		gutter: mk(color.FgBlue),
		caret:  mk(color.FgRed, color.Bold),
		del:    mk(color.FgRed),
		add:    mk(color.FgGreen),
	}
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	}
	return p.info
}

// Pretty prints every diagnostic of bag, in the bag's order (sort it
// first), as
//
//	<path>:<line>:<col>: <SEV> <ID> <Name>: <message>
//
// followed by the source line with the span underlined, then notes and
// fixes when enabled.
func Pretty(w io.Writer, bag *diag.Bag, opts PrettyOpts) {
	if bag == nil {
		return
	}
	pr := &prettyPrinter{w: w, opts: opts, pal: newPalette(opts.Color), src: newSourceCache(opts.Sources)}
	for i, d := range bag.Items() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		pr.diagnostic(d)
	}
}

type prettyPrinter struct {
	w    io.Writer
	opts PrettyOpts
	pal  palette
	src  *sourceCache
}

func (p *prettyPrinter) location(sp source.Span) string {
	if !sp.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%s:%d:%d", formatPath(sp.File(), p.opts.PathMode, p.opts.BaseDir), sp.Start.Line, sp.Start.Column)
}

func (p *prettyPrinter) diagnostic(d diag.Diagnostic) {
	sev := p.pal.severity(d.Severity)
	if d.Primary.IsValid() {
		fmt.Fprintf(p.w, "%s: ", p.pal.path.Sprint(p.location(d.Primary)))
	}
	fmt.Fprintf(p.w, "%s %s %s: %s\n", sev.Sprint(d.Severity.String()), d.Code.ID(), d.Code.Name(), d.Message)
	p.excerpt(d.Primary, p.pal.caret)

	if p.opts.ShowNotes || d.Code == diag.ObsTimings {
		for _, n := range d.Notes {
			if n.Span.IsValid() {
				fmt.Fprintf(p.w, "  %s %s: %s\n", p.pal.note.Sprint("note:"), p.location(n.Span), n.Msg)
				p.excerpt(n.Span, p.pal.note)
				continue
			}
			fmt.Fprintf(p.w, "  %s %s\n", p.pal.note.Sprint("note:"), n.Msg)
		}
	}
	if p.opts.ShowFixes {
		for _, f := range d.Fixes {
			fmt.Fprintf(p.w, "  %s %s\n", p.pal.fix.Sprint("fix:"), f.Title)
			for _, e := range f.Edits {
				p.fixEdit(e)
			}
		}
	}
}

func (p *prettyPrinter) excerpt(sp source.Span, caret *color.Color) {
	if !sp.IsValid() || sp.Start.Line <= 0 {
		return
	}
	src, ok := p.src.get(sp.File())
	if !ok {
		return
	}
	lines := bytes.Split(src, []byte("\n"))
	line := sp.Start.Line
	if line > len(lines) {
		return
	}
	ctx := int(max(p.opts.Context, 0))
	first, last := max(1, line-ctx), min(len(lines), line+ctx)
	width := len(fmt.Sprint(last))

	for n := first; n <= last; n++ {
		text := strings.TrimRight(string(lines[n-1]), "\r")
		fmt.Fprintf(p.w, " %s %s\n", p.pal.gutter.Sprintf("%*d |", width, n), p.clip(text))
		if n != line {
			continue
		}
		startCol := min(max(sp.Start.Column-1, 0), len(text))
		endCol := len(text)
		if sp.End.Line == line && sp.End.Column-1 >= startCol {
			endCol = min(sp.End.Column-1, len(text))
		}
		under := runewidth.StringWidth(text[startCol:endCol])
		mark := "^"
		if under > 1 {
			mark += strings.Repeat("~", under-1)
		}
		fmt.Fprintf(p.w, " %s %s%s\n", p.pal.gutter.Sprintf("%*s |", width, ""), indentLike(text[:startCol]), caret.Sprint(mark))
	}
}

func (p *prettyPrinter) clip(text string) string {
	if p.opts.Width == 0 || runewidth.StringWidth(text) <= int(p.opts.Width) {
		return text
	}
	return runewidth.Truncate(text, int(p.opts.Width), "...")
}

func (p *prettyPrinter) fixEdit(e diag.FixEdit) {
	src, _ := p.src.get(e.Span.File())
	pv, err := buildFixEditPreview(src, e)
	if err != nil {
		fmt.Fprintf(p.w, "    %s: replace with %q\n", p.location(e.Span), e.NewText)
		return
	}
	for _, l := range pv.before {
		fmt.Fprintf(p.w, "    %s\n", p.pal.del.Sprint("- "+l))
	}
	for _, l := range pv.after {
		fmt.Fprintf(p.w, "    %s\n", p.pal.add.Sprint("+ "+l))
	}
}

// indentLike keeps tabs and turns everything else into spaces of the same
// display width.
func indentLike(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		if r == '\t' {
			b.WriteByte('\t')
			continue
		}
		b.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
	}
	return b.String()
}

// Short prints one line per diagnostic.
func Short(w io.Writer, bag *diag.Bag, mode PathMode, base string) {
	if bag == nil {
		return
	}
	for _, d := range bag.Items() {
		loc := "-"
		if d.Primary.IsValid() {
			loc = fmt.Sprintf("%s:%d:%d", formatPath(d.Primary.File(), mode, base), d.Primary.Start.Line, d.Primary.Start.Column)
		}
		fmt.Fprintf(w, "%s: %s %s: %s\n", loc, d.Severity.Label(), d.Code.Name(), d.Message)
	}
}
