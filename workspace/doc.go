// Package workspace confines script file access to a single directory tree.
//
// A [Gate] canonicalizes every requested path (absolute form, symlinks
// resolved) and refuses any target that is not the workspace root or a
// descendant of it. The check runs before any syscall touches the target, so a
// rejected write leaves nothing behind outside the root.
//
// Relative paths are resolved against the workspace root, not the process
// working directory.
//
// Files handed to scripts are wrapped in [File], which exposes reading,
// writing and closing only.
package workspace
