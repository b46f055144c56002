package workspace

import (
	"errors"
	"fmt"
)

// Sentinel errors for error classification.
var (
	// ErrPermissionDenied indicates a path that resolves outside the
	// workspace root.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidMode indicates an unsupported open mode string.
	ErrInvalidMode = errors.New("invalid file mode")

	// ErrInvalidPath indicates an empty or malformed path.
	ErrInvalidPath = errors.New("invalid path")
)

// PathError records a rejected or failed file operation.
type PathError struct {
	// Op is the gate operation ("open", "resolve", "mkdir").
	Op string

	// Path is the path exactly as the script supplied it.
	Path string

	// Root is the canonical workspace root.
	Root string

	// Err is the underlying error.
	Err error
}

// Error returns a message suitable for showing to the script author.
func (e *PathError) Error() string {
	if errors.Is(e.Err, ErrPermissionDenied) {
		return fmt.Sprintf("file access denied: %q is outside workspace directory; only files in %q are accessible",
			e.Path, e.Root)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *PathError) Unwrap() error {
	return e.Err
}
