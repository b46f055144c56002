package code

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolharness/backend"
	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// Sentinel errors for error classification.
var (
	// ErrCodeExecution matches every *CodeError.
	ErrCodeExecution = errors.New("code execution error")

	// ErrConfiguration indicates an invalid or incomplete configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidRequest is returned by Execute for a request that can never
	// run, such as an empty script or an out of range budget.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrLimitExceeded is returned by Tools.Call once MaxToolCalls is spent.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrImportRestricted matches every *ImportError.
	ErrImportRestricted = errors.New("import not allowed")

	// ErrNoInvoker is returned by Tools.Call when no invoker is configured.
	ErrNoInvoker = errors.New("no tool invoker configured")
)

// Failure kinds reported in Result.Kind and as the prefix of Result.Error.
const (
	KindSyntax           = "SyntaxError"
	KindCompile          = "CompileError"
	KindPanic            = "Panic"
	KindImport           = "ImportRestricted"
	KindPermissionDenied = "PermissionDenied"
	KindServerNotFound   = "ServerNotFound"
	KindToolNotFound     = "ToolNotFound"
	KindInvalidArguments = "InvalidArguments"
	KindToolDiscovery    = "ToolDiscoveryError"
	KindToolCallLimit    = "ToolCallLimit"
	KindConfiguration    = "ConfigurationError"
	KindCanceled         = "Canceled"
	KindTimedOut         = "TimedOut"
	KindInternal         = "InternalError"
)

// CodeError is a failure raised while compiling or running a script.
type CodeError struct {
	// Kind is one of the Kind constants. Empty is treated as KindPanic.
	Kind string

	// Message describes the error.
	Message string

	// Line is the 1-based script line; zero when unknown.
	Line int

	// Column is the 1-based column; zero when unknown.
	Column int

	// Trace is the interpreter stack at the point of failure, if any.
	Trace string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message, including line and column if available.
func (e *CodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, col %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *CodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCodeExecution.
func (e *CodeError) Is(target error) bool {
	return target == ErrCodeExecution
}

// ImportError reports an import outside the allow-list.
type ImportError struct {
	Path    string
	Allowed []string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %q is not allowed", e.Path)
}

// Is reports whether target is ErrImportRestricted.
func (e *ImportError) Is(target error) bool {
	return target == ErrImportRestricted
}

// Describe classifies err and renders the text placed in Result.Error.
func Describe(err error) (kind, text string) {
	if err == nil {
		return "", ""
	}

	var ie *ImportError
	if errors.As(err, &ie) {
		text = "Import error: " + ie.Error()
		if len(ie.Allowed) > 0 {
			text += "\nAllowed modules: " + strings.Join(ie.Allowed, ", ")
		}
		return KindImport, text
	}

	var ce *CodeError
	if errors.As(err, &ce) {
		kind = ce.Kind
		if kind == "" || kind == KindPanic {
			if k := kindOf(ce.Err); k != "" {
				kind = k
			} else if kind == "" {
				kind = KindPanic
			}
		}
		text = kind + ": " + ce.Error()
		if ce.Trace != "" {
			text += "\n" + strings.TrimRight(ce.Trace, "\n")
		}
		return kind, text
	}

	kind = kindOf(err)
	if kind == "" {
		kind = KindInternal
	}
	return kind, kind + ": " + err.Error()
}

func kindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, workspace.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, catalog.ErrServerNotFound):
		return KindServerNotFound
	case errors.Is(err, catalog.ErrToolNotFound):
		return KindToolNotFound
	case errors.Is(err, backend.ErrInvalidArguments):
		return KindInvalidArguments
	case errors.Is(err, catalog.ErrToolDiscovery):
		return KindToolDiscovery
	case errors.Is(err, ErrLimitExceeded):
		return KindToolCallLimit
	case errors.Is(err, search.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return ""
}
