package catalog

import (
	"bytes"
	"path"
	"strings"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/json"
)

// CurrentVersion is the catalog document version written by this package.
const CurrentVersion uint32 = 1

// MarshalJSON encodes the type as a tagged object, e.g. {"type":"UInt32"}.
func (t LogicalType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "cannot encode %s", t)
	}
	return []byte(`{"type":"` + t.String() + `"}`), nil
}

// UnmarshalJSON accepts the tagged object form or a bare type name.
func (t *LogicalType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var name string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
	} else {
		var tagged struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &tagged); err != nil {
			return err
		}
		name = tagged.Type
	}
	parsed, err := ParseLogicalType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ColumnDef declares a column of a table.
type ColumnDef struct {
	Name        string      `json:"name"`
	LogicalType LogicalType `json:"logical_type"`
}

// ColumnChunkMeta describes where one column of one segment lives.
type ColumnChunkMeta struct {
	Name     string `json:"name"`
	File     string `json:"file"`
	Encoding string `json:"encoding"`

	Offset         uint64  `json:"offset"`
	Length         uint64  `json:"length"`
	NullMaskOffset *uint64 `json:"null_mask_offset,omitempty"`
	NullMaskLength *uint64 `json:"null_mask_length,omitempty"`

	// Min and Max hold the statistics of present values, if known
	Min json.RawMessage `json:"min,omitempty"`
	Max json.RawMessage `json:"max,omitempty"`
}

// SegmentMeta describes one immutable segment.
type SegmentMeta struct {
	ID       string            `json:"id"`
	RowCount uint64            `json:"row_count"`
	Columns  []ColumnChunkMeta `json:"columns"`
}

// Column returns the chunk for the named column.
func (s *SegmentMeta) Column(name string) (*ColumnChunkMeta, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// TableMeta is the persisted logical catalog of one table.
type TableMeta struct {
	Name     string        `json:"name"`
	Version  uint32        `json:"version"`
	Columns  []ColumnDef   `json:"columns"`
	Segments []SegmentMeta `json:"segments"`
}

// NewTableMeta returns an empty catalog at the current version.
func NewTableMeta(name string, columns []ColumnDef) *TableMeta {
	return &TableMeta{
		Name:     name,
		Version:  CurrentVersion,
		Columns:  columns,
		Segments: []SegmentMeta{},
	}
}

// AddSegment appends a segment to the catalog.
func (m *TableMeta) AddSegment(seg SegmentMeta) {
	m.Segments = append(m.Segments, seg)
}

// FindColumn returns the definition of the named column.
func (m *TableMeta) FindColumn(name string) (*ColumnDef, bool) {
	for i := range m.Columns {
		if m.Columns[i].Name == name {
			return &m.Columns[i], true
		}
	}
	return nil, false
}

// FindSegment returns the segment with the given id.
func (m *TableMeta) FindSegment(id string) (*SegmentMeta, bool) {
	for i := range m.Segments {
		if m.Segments[i].ID == id {
			return &m.Segments[i], true
		}
	}
	return nil, false
}

// TotalRows sums the row counts of all segments.
func (m *TableMeta) TotalRows() uint64 {
	var n uint64
	for i := range m.Segments {
		n += m.Segments[i].RowCount
	}
	return n
}

// Validate checks the catalog for internal consistency. Byte ranges are not
// checked against file sizes here; that happens when a segment is opened.
// ValidColumnName reports whether name is usable as a column name: non-empty,
// not "." or "..", and free of path separators and NUL bytes.
func ValidColumnName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

func (m *TableMeta) Validate() error {
	if m.Name == "" {
		return errors.New(errors.ErrorTypeFormat, "table name is empty")
	}
	if m.Version == 0 || m.Version > CurrentVersion {
		return errors.New(errors.ErrorTypeFormat, "unsupported catalog version").
			WithDetail("version", m.Version).
			WithDetail("supported", CurrentVersion)
	}

	seen := make(map[string]struct{}, len(m.Columns))
	for _, c := range m.Columns {
		if c.Name == "" {
			return errors.New(errors.ErrorTypeFormat, "column name is empty")
		}
		if !ValidColumnName(c.Name) {
			return errors.Newf(errors.ErrorTypeFormat, "invalid column name %q", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return errors.New(errors.ErrorTypeFormat, "duplicate column definition").
				WithDetail("column", c.Name)
		}
		if !c.LogicalType.Valid() {
			return errors.New(errors.ErrorTypeFormat, "invalid logical type").
				WithDetail("column", c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	segs := make(map[string]struct{}, len(m.Segments))
	for i := range m.Segments {
		s := &m.Segments[i]
		if _, dup := segs[s.ID]; dup {
			return errors.New(errors.ErrorTypeFormat, "duplicate segment").
				WithDetail("segment", s.ID)
		}
		segs[s.ID] = struct{}{}
		if err := m.validateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *TableMeta) validateSegment(s *SegmentMeta) error {
	if s.ID == "" {
		return errors.New(errors.ErrorTypeFormat, "segment id is empty")
	}
	for i := range s.Columns {
		chunk := &s.Columns[i]
		def, ok := m.FindColumn(chunk.Name)
		if !ok {
			return errors.New(errors.ErrorTypeFormat, "segment references undeclared column").
				WithDetail("segment", s.ID).
				WithDetail("column", chunk.Name)
		}
		if chunk.Encoding != def.LogicalType.Encoding() {
			return errors.New(errors.ErrorTypeFormat, "chunk encoding does not match column type").
				WithDetail("segment", s.ID).
				WithDetail("column", chunk.Name).
				WithDetail("encoding", chunk.Encoding).
				WithDetail("logical_type", def.LogicalType.String())
		}
		if !localPath(chunk.File) {
			return errors.New(errors.ErrorTypeFormat, "chunk file must be a relative path inside the table").
				WithDetail("segment", s.ID).
				WithDetail("column", chunk.Name).
				WithDetail("file", chunk.File)
		}
	}
	return nil
}

func localPath(p string) bool {
	if p == "" || path.IsAbs(p) {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Layout derives the physical layout of a segment from the catalog. All of
// a segment's chunks must live in one data file, whose catalog-relative path
// is returned alongside the layout.
func (m *TableMeta) Layout(segmentID string) (string, *TableMetadata, error) {
	seg, ok := m.FindSegment(segmentID)
	if !ok {
		return "", nil, errors.New(errors.ErrorTypeNotFound, "segment not found").
			WithDetail("table", m.Name).
			WithDetail("segment", segmentID)
	}
	if err := m.validateSegment(seg); err != nil {
		return "", nil, err
	}
	if len(seg.Columns) == 0 {
		return "", nil, errors.New(errors.ErrorTypeFormat, "segment has no columns").
			WithDetail("segment", segmentID)
	}

	layout := &TableMetadata{
		Name:    m.Name,
		NumRows: seg.RowCount,
		Columns: make([]ColumnMetadata, 0, len(seg.Columns)),
	}
	var file string
	for i := range seg.Columns {
		chunk := &seg.Columns[i]
		if file == "" {
			file = chunk.File
		} else if chunk.File != file {
			return "", nil, errors.New(errors.ErrorTypeFormat, "segment spans more than one data file").
				WithDetail("segment", segmentID).
				WithDetail("column", chunk.Name).
				WithDetail("file", chunk.File)
		}
		def, _ := m.FindColumn(chunk.Name)
		layout.Columns = append(layout.Columns, ColumnMetadata{
			Name:           chunk.Name,
			DataType:       def.LogicalType,
			Offset:         chunk.Offset,
			Length:         chunk.Length,
			NullMaskOffset: chunk.NullMaskOffset,
			NullMaskLength: chunk.NullMaskLength,
		})
	}
	if err := layout.Validate(0); err != nil {
		return "", nil, errors.Wrap(err, errors.TypeOf(err), "invalid segment layout").
			WithDetail("segment", segmentID)
	}
	return file, layout, nil
}
