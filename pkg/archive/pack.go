// Package archive ships published segments to and from object storage.
//
// A segment archive is a tar stream, compressed with one of the algorithms
// of package compression, whose first member is a manifest describing the
// table schema and the segment's catalog entry. The remaining members are
// the files of the segment directory.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/json"
)

// ManifestName is the name of the manifest member.
const ManifestName = "MANIFEST.json"

// ManifestVersion is the manifest format written by Pack.
const ManifestVersion = 1

// maxManifestSize bounds the manifest read by Unpack.
const maxManifestSize = 16 << 20

// Manifest describes an archived segment.
type Manifest struct {
	Version     uint32              `json:"version"`
	Table       string              `json:"table"`
	Columns     []catalog.ColumnDef `json:"columns"`
	Segment     catalog.SegmentMeta `json:"segment"`
	Compression string              `json:"compression"`
}

// Pack writes the regular files of dir to w as a compressed tar stream
// preceded by the manifest. Subdirectories are not archived.
func Pack(w io.Writer, dir string, manifest *Manifest, comp compression.Compressor) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, dir, manifest))
	}()
	err := comp.CompressStream(w, pr)
	pr.CloseWithError(err)
	return err
}

func writeTar(w io.Writer, dir string, manifest *Manifest) error {
	doc, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to encode manifest")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t := errors.ErrorTypeFile
		if os.IsNotExist(err) {
			t = errors.ErrorTypeNotFound
		}
		return errors.Wrap(err, t, "failed to read segment directory").WithDetail("path", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{
		Name:     ManifestName,
		Mode:     0o644,
		Size:     int64(len(doc)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write manifest header")
	}
	if _, err := tw.Write(doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write manifest")
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, e.Name()), e.Name()); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish archive")
	}
	return nil
}

func addFile(tw *tar.Writer, filename, name string) error {
	f, err := os.Open(filename) //nolint:gosec // G304: files come from the segment directory listing
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open segment file").WithDetail("path", filename)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to stat segment file").WithDetail("path", filename)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to build tar header").WithDetail("path", filename)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write tar header").WithDetail("path", filename)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to archive segment file").WithDetail("path", filename)
	}
	return nil
}

// Unpack restores an archive written by Pack into dir, which is created
// if needed, and returns its manifest. Members that would land outside dir
// or overwrite an existing file are rejected.
func Unpack(r io.Reader, dir string, comp compression.Compressor) (*Manifest, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := comp.DecompressStream(pw, r)
		pw.CloseWithError(err)
		done <- err
	}()

	manifest, err := readTar(pr, dir)
	// Drain so that trailing checksums are verified.
	if err == nil {
		_, err = io.Copy(io.Discard, pr)
	}
	pr.CloseWithError(err)
	if derr := <-done; err == nil && derr != nil {
		err = errors.Wrap(derr, errors.ErrorTypeData, "failed to decompress archive")
	}
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func readTar(r io.Reader, dir string) (*Manifest, error) {
	tr := tar.NewReader(r)

	hdr, err := tr.Next()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read archive")
	}
	if hdr.Name != ManifestName {
		return nil, errors.Newf(errors.ErrorTypeFormat, "archive starts with %q, want %s", hdr.Name, ManifestName)
	}
	doc, err := io.ReadAll(io.LimitReader(tr, maxManifestSize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(doc, &manifest); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to parse manifest")
	}
	if manifest.Version == 0 || manifest.Version > ManifestVersion {
		return nil, errors.Newf(errors.ErrorTypeFormat, "unsupported manifest version %d", manifest.Version)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create segment directory").WithDetail("path", dir)
	}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return &manifest, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read archive")
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, errors.Newf(errors.ErrorTypeFormat, "unsupported archive member type %q", hdr.Typeflag).
				WithDetail("name", hdr.Name)
		}
		name, ok := memberName(hdr.Name)
		if !ok {
			return nil, errors.New(errors.ErrorTypeFormat, "archive member escapes the segment directory").
				WithDetail("name", hdr.Name)
		}
		if err := extract(tr, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
}

// memberName accepts plain file names only.
func memberName(name string) (string, bool) {
	clean := path.Clean(name)
	if clean != name || clean == "." || clean == ".." || strings.ContainsAny(clean, `/\`) {
		return "", false
	}
	return clean, true
}

func extract(r io.Reader, filename string) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G304: name checked by memberName
	if err != nil {
		if os.IsExist(err) {
			return errors.New(errors.ErrorTypeConflict, "refusing to overwrite existing file").
				WithDetail("path", filename)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create file").WithDetail("path", filename)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to extract file").WithDetail("path", filename)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync file").WithDetail("path", filename)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close file").WithDetail("path", filename)
	}
	return nil
}
