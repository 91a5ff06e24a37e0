// Package xdgpath resolves XDG Base Directory-style paths for this
// module's own filesystem footprint: the CLI configuration file and the
// default directory for UNIX-domain broker sockets (spec.md §4.10).
//
// The teacher's CLI wiring (cmd/timpani/main.go's configFile) calls into
// github.com/tzrikka/xdg, an internal collaborator package of the
// teacher's own organization rather than a generic ecosystem library
// (see DESIGN.md). This package reproduces the same CreateFile/NewFilePermissions
// shape directly against os.UserConfigDir, so the behavior survives
// without depending on an org-internal module.
package xdgpath

import (
	"os"
	"path/filepath"
)

// NewFilePermissions matches the teacher's xdg.NewFilePermissions:
// owner read/write, group/other read-only.
const NewFilePermissions = 0o644

// NewDirPermissions is used for any directory this package creates.
const NewDirPermissions = 0o755

// ConfigFile returns the path to appName's fileName under the user's
// XDG config home, creating the file (and its parent directories) if it
// doesn't already exist.
func ConfigFile(appName, fileName string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, NewDirPermissions); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, NewFilePermissions)
	if err != nil {
		return "", err
	}
	_ = f.Close()

	return path, nil
}

// SocketDir returns the default directory for appName's UNIX-domain
// broker sockets (spec.md §4.10 "sockpath/sockname.sock"), creating it
// if it doesn't already exist. It prefers $XDG_RUNTIME_DIR, falling
// back to the OS temp directory when unset (e.g. on systems without a
// systemd-managed runtime directory).
func SocketDir(appName string) (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}

	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, NewDirPermissions); err != nil {
		return "", err
	}
	return dir, nil
}
