package worker

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/dispatch-core/pkg/apierr"
)

// zipMagic is the four-byte signature a standard zip archive starts with
// (spec §4.4 step 2: "validate the first four bytes match a standard
// archive magic").
var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// validateBundleMagic checks data's first four bytes against the known
// archive signature, returning apierr.BadBundle on mismatch.
func validateBundleMagic(data []byte) error {
	if len(data) < 4 || !bytes.Equal(data[:4], zipMagic) {
		return apierr.New(apierr.BadBundle, "bundle does not begin with a recognized archive magic")
	}
	return nil
}

// extractBundle unpacks a validated zip archive into dir.
func extractBundle(data []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return apierr.Wrap(apierr.BadBundle, "open bundle archive", err)
	}

	for _, f := range reader.File {
		dest := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) && dest != filepath.Clean(dir) {
			return apierr.New(apierr.BadBundle, "bundle entry escapes workspace: "+f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create bundle dir %s: %w", dest, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create bundle parent dir: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open bundle entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return fmt.Errorf("create bundle file %s: %w", dest, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("write bundle file %s: %w", dest, copyErr)
		}
	}
	return nil
}

// buildResultArchive zips the workspace directory plus a logs.txt made from
// stdout followed by stderr (spec §4.4 step 6).
func buildResultArchive(workspaceDir, stdout, stderr string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.Walk(workspaceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("walk workspace: %w", err)
	}

	logsWriter, err := zw.Create("logs.txt")
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("create logs.txt: %w", err)
	}
	if _, err := logsWriter.Write([]byte(stdout)); err != nil {
		zw.Close()
		return nil, fmt.Errorf("write stdout to logs.txt: %w", err)
	}
	if _, err := logsWriter.Write([]byte(stderr)); err != nil {
		zw.Close()
		return nil, fmt.Errorf("write stderr to logs.txt: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize result archive: %w", err)
	}
	return buf.Bytes(), nil
}
