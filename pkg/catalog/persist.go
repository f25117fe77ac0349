package catalog

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/json"
)

// Load reads a table catalog document. Failing to read the file yields an
// ErrorTypeFile error; a document that cannot be parsed or fails validation
// yields an ErrorTypeFormat error.
func Load(path string) (*TableMeta, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: catalog path is chosen by the caller
	if err != nil {
		t := errors.ErrorTypeFile
		if os.IsNotExist(err) {
			t = errors.ErrorTypeNotFound
		}
		return nil, errors.Wrap(err, t, "failed to read table catalog").
			WithDetail("path", path)
	}

	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to parse table catalog").
			WithDetail("path", path)
	}
	if meta.Segments == nil {
		meta.Segments = []SegmentMeta{}
	}
	if err := meta.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "invalid table catalog").
			WithDetail("path", path)
	}
	return &meta, nil
}

// Save writes the whole catalog document. The document is written to a
// temporary file in the same directory, synced and renamed into place, so a
// reader sees either the previous or the new catalog.
func Save(path string, meta *TableMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to encode table catalog")
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic replaces path with data via a synced temporary file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary file").
			WithDetail("path", path)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to set file mode").
			WithDetail("path", tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write temporary file").
			WithDetail("path", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync temporary file").
			WithDetail("path", tmpName)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close temporary file").
			WithDetail("path", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to publish file").
			WithDetail("path", path)
	}
	return nil
}
