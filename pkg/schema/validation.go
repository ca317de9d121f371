package schema

import (
	"fmt"
	"strings"
)

// Problem is one finding about a sequence document. Path locates the node or
// field inside the document, e.g. "root.children[1].payload"; "/" is the
// document itself.
type Problem struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p Problem) String() string { return p.Path + ": " + p.Message }

// Report collects the problems found while checking a sequence document.
// Errors keep the document from loading. Warnings are informational and only
// shown by the validate command.
type Report struct {
	Errors   []Problem `json:"errors,omitempty"`
	Warnings []Problem `json:"warnings,omitempty"`
}

// OK reports whether the document has no errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Fail records an error at path.
func (r *Report) Fail(path, code, format string, args ...any) {
	r.Errors = append(r.Errors, Problem{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Warn records a warning at path.
func (r *Report) Warn(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Problem{Path: path, Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)})
}

// Include appends the problems of other. A nil other is ignored.
func (r *Report) Include(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns nil for a loadable document, otherwise a VALIDATION_ERROR whose
// message names every error location. All problems go into the details.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		lines := make([]string, len(r.Errors))
		for i, p := range r.Errors {
			lines[i] = p.String()
		}
		msg = fmt.Sprintf("sequence document has %d errors: %s", len(r.Errors), strings.Join(lines, "; "))
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
