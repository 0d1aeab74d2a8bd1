package easyrsa

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ReleaseVersion is the pinned easy-rsa release fetched by Provision.
// Pinning keeps the provisioned toolkit's behaviour stable across hosts;
// bumping it is a deliberate change, not an upgrade that happens on its own.
const ReleaseVersion = "3.1.7"

// releaseURL is overridable in tests.
var releaseURL = fmt.Sprintf(
	"https://github.com/OpenVPN/easy-rsa/releases/download/v%s/EasyRSA-%s.tgz",
	ReleaseVersion, ReleaseVersion,
)

const downloadTimeout = 2 * time.Minute

// maxArchiveFileSize bounds a single extracted file to keep a malformed
// archive from filling the disk. Entries declaring a larger size abort
// the extraction rather than being written truncated.
const maxArchiveFileSize = 32 << 20

// Provision downloads the pinned release archive and extracts it into dir,
// stripping the versioned top-level directory so dir itself becomes the
// installation root. The entry point is marked executable.
func Provision(ctx context.Context, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL, nil)
	if err != nil {
		return fmt.Errorf("building release request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading easy-rsa %s: %w", ReleaseVersion, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading easy-rsa %s: unexpected status %s", ReleaseVersion, resp.Status)
	}

	if err := extractArchive(resp.Body, dir); err != nil {
		return fmt.Errorf("extracting easy-rsa %s: %w", ReleaseVersion, err)
	}

	bin := filepath.Join(dir, entryPoint)
	if err := os.Chmod(bin, 0o755); err != nil {
		return fmt.Errorf("marking entry point executable: %w", err)
	}
	return nil
}

// extractArchive unpacks a gzipped tarball into dir, dropping the first
// path element of every entry (the EasyRSA-x.y.z/ prefix in the release).
func extractArchive(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		rel := stripLeadingDir(hdr.Name)
		if rel == "" {
			continue
		}
		target, err := securePath(dir, rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxArchiveFileSize {
				return fmt.Errorf("archive entry %q is %d bytes, exceeds %d byte limit", hdr.Name, hdr.Size, maxArchiveFileSize)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := writeArchiveFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Symlinks and special files are not part of the release
			// payload this adapter needs; skip them.
		}
	}
}

func writeArchiveFile(target string, r io.Reader, perm os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

// stripLeadingDir removes the first path element from an archive entry name.
func stripLeadingDir(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// securePath joins rel onto dir and rejects entries that would escape it.
func securePath(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	cleanDir := filepath.Clean(dir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, cleanDir) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", rel)
	}
	return target, nil
}
