package easyrsa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// entryPoint is the name of the runnable script inside an installation.
const entryPoint = "easyrsa"

// fallbackDirName is the working-directory-relative location used when no
// system installation exists; provisioning extracts the pinned release here.
const fallbackDirName = "easy-rsa"

// candidateDirs returns the ordered conventional install locations for the
// current platform. The working-directory fallback is always last.
func candidateDirs() []string {
	var dirs []string
	switch runtime.GOOS {
	case "darwin":
		dirs = []string{
			"/usr/local/share/easy-rsa",
			"/opt/homebrew/share/easy-rsa",
			"/usr/local/opt/easy-rsa/share/easy-rsa",
		}
	case "windows":
		if pf := os.Getenv("ProgramFiles"); pf != "" {
			dirs = []string{filepath.Join(pf, "EasyRSA")}
		}
	default:
		dirs = []string{
			"/usr/share/easy-rsa",
			"/usr/local/share/easy-rsa",
			"/opt/easy-rsa",
		}
	}
	return append(dirs, fallbackDirName)
}

// inspectDir reports whether dir holds a runnable easy-rsa entry point.
func inspectDir(dir string) (Handle, bool) {
	bin := filepath.Join(dir, entryPoint)
	if runtime.GOOS == "windows" {
		bin += ".bat"
	}
	info, err := os.Stat(bin)
	if err != nil || info.IsDir() {
		return Handle{}, false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Handle{}, false
	}
	absBin, err := filepath.Abs(bin)
	if err != nil {
		return Handle{}, false
	}
	return Handle{Dir: abs, Bin: absBin}, true
}

// Locate searches the conventional install locations, preferring any
// explicitly configured directories, and returns the first usable
// installation. It wraps ErrUnavailable when nothing qualifies.
func Locate(extra ...string) (Handle, error) {
	dirs := append(append([]string{}, extra...), candidateDirs()...)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if h, ok := inspectDir(dir); ok {
			return h, nil
		}
	}
	return Handle{}, fmt.Errorf("no installation in %d candidate locations: %w", len(dirs), ErrUnavailable)
}

// LocateOrProvision locates an installation, and when none exists downloads
// the pinned release into the working-directory fallback and retries. The
// provisioned copy is self-contained, so a host without a packaged easy-rsa
// still ends up with a working toolkit.
func LocateOrProvision(ctx context.Context, extra ...string) (Handle, error) {
	h, err := Locate(extra...)
	if err == nil {
		return h, nil
	}
	if provErr := Provision(ctx, fallbackDirName); provErr != nil {
		return Handle{}, fmt.Errorf("provisioning after failed search: %v: %w", provErr, ErrUnavailable)
	}
	h, err = Locate(extra...)
	if err != nil {
		return Handle{}, fmt.Errorf("provisioned copy not usable: %w", ErrUnavailable)
	}
	return h, nil
}
