package export

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// BundleEntry is one file placed into a zip bundle.
type BundleEntry struct {
	Name     string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// WriteZip streams entries into a zip archive on w. Entry names must be unique.
func WriteZip(w io.Writer, entries []BundleEntry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("duplicate bundle entry %s", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		if err := writeEntry(zw, entry); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalise zip: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, entry BundleEntry) error {
	header := &zip.FileHeader{Name: entry.Name, Method: zip.Deflate, Modified: entry.Modified}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", entry.Name, err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open bundle source %s: %w", entry.Name, err)
	}
	defer src.Close() //nolint:errcheck
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy bundle entry %s: %w", entry.Name, err)
	}
	return nil
}
