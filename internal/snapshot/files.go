package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// SourceFile is one schema source file and its content hash.
type SourceFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// FileSet tracks the schema source files a catalog snapshot was built from.
// It catches edits, such as comment changes, that leave the catalog unchanged.
type FileSet struct {
	Version int          `json:"version"`
	Files   []SourceFile `json:"files"`
}

// NewFileSet builds a FileSet from path -> content, sorted by path.
func NewFileSet(contents map[string][]byte) *FileSet {
	fs := &FileSet{Version: FormatVersion, Files: make([]SourceFile, 0, len(contents))}
	for path, data := range contents {
		fs.Files = append(fs.Files, SourceFile{Path: path, Hash: HashWithDomain(DomainFile, data)})
	}
	sort.Slice(fs.Files, func(i, j int) bool { return fs.Files[i].Path < fs.Files[j].Path })
	return fs
}

// Equal reports whether both sets list the same files with the same hashes.
func (f *FileSet) Equal(other *FileSet) bool {
	if len(f.Files) != len(other.Files) {
		return false
	}
	for i := range f.Files {
		if f.Files[i] != other.Files[i] {
			return false
		}
	}
	return true
}

// Encode returns the indented JSON form.
func (f *FileSet) Encode() ([]byte, error) {
	files := f.Files
	if files == nil {
		files = []SourceFile{}
	}
	out, err := json.MarshalIndent(FileSet{Version: FormatVersion, Files: files}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// LoadFileSet reads a file set. A missing file yields an empty set.
func LoadFileSet(path string) (*FileSet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &FileSet{Version: FormatVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file snapshot %s: %w", path, err)
	}
	var fs FileSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("decode file snapshot %s: %w", path, err)
	}
	return &fs, nil
}

// SaveFileSet writes the file set to path.
func SaveFileSet(path string, f *FileSet) error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("encode file snapshot: %w", err)
	}
	return writeFile(path, data)
}
