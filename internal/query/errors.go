package query

import "fmt"

// ConflictError reports a result-shape conflict: two queries declaring
// the same shared result with different structures, or a collection
// whose grouping key is missing from its projection.
type ConflictError struct {
	Namespace string
	Name      string
	File      string
	Detail    string
}

func (e *ConflictError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: shared result %q in namespace %q: %s", e.File, e.Name, e.Namespace, e.Detail)
	}
	return fmt.Sprintf("shared result %q in namespace %q: %s", e.Name, e.Namespace, e.Detail)
}

// TypeError reports a projection column whose type cannot be resolved:
// a direct reference to an unknown table or column with no directive
// override in reach.
type TypeError struct {
	File    string
	Line    int
	Column  string
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s:%d: column %q: %s", e.File, e.Line, e.Column, e.Message)
}

// AnalyzeError wraps any other failure analyzing a query file.
type AnalyzeError struct {
	File    string
	Line    int
	Message string
}

func (e *AnalyzeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
