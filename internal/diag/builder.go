package diag

import "polybind/internal/source"

func New(sev Severity, code Code, primary source.Span, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, primary source.Span, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func NewWarning(code Code, primary source.Span, msg string) Diagnostic {
	return New(SevWarning, code, primary, msg)
}

func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Span: sp, Msg: msg})
	return d
}

func (d Diagnostic) WithFix(title string, edits ...FixEdit) Diagnostic {
	d.Fixes = append(d.Fixes, Fix{Title: title, Edits: edits})
	return d
}

// At returns a copy of d re-anchored at sp. Replayed cache failures use it to
// point at the requesting import site while keeping the original as a note.
func (d Diagnostic) At(sp source.Span) Diagnostic {
	if !sp.IsValid() || sp == d.Primary {
		return d
	}
	out := d
	out.Notes = append([]Note(nil), d.Notes...)
	if d.Primary.IsValid() {
		out.Notes = append(out.Notes, Note{Span: d.Primary, Msg: "originally reported here"})
	}
	out.Primary = sp
	return out
}
