package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FormatVersion is written into persisted snapshot files.
const FormatVersion = 1

// Snapshot maps object identity to a normalized definition. Two snapshots
// built from the same logical schema always have the same Hash regardless of
// the order objects were added in.
type Snapshot struct {
	objects map[string]*Object
}

// New returns an empty snapshot.
func New() *Snapshot {
	return &Snapshot{objects: make(map[string]*Object)}
}

// Add inserts o, computing its hash. It returns an error if an object with
// the same identity already exists.
func (s *Snapshot) Add(o *Object) error {
	id := o.ID()
	if existing, ok := s.objects[id]; ok {
		return fmt.Errorf("duplicate definition of %s (in %q and %q)", id, existing.Source, o.Source)
	}
	o.Hash = ObjectHash(o)
	s.objects[id] = o
	return nil
}

// Put inserts or replaces o.
func (s *Snapshot) Put(o *Object) {
	o.Hash = ObjectHash(o)
	s.objects[o.ID()] = o
}

// Remove deletes the object with the given identity.
func (s *Snapshot) Remove(id string) {
	delete(s.objects, id)
}

// Get returns the object with the given identity.
func (s *Snapshot) Get(id string) (*Object, bool) {
	o, ok := s.objects[id]
	return o, ok
}

// Len returns the number of objects.
func (s *Snapshot) Len() int {
	return len(s.objects)
}

// IDs returns every identity in sorted order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Objects returns every object sorted by identity.
func (s *Snapshot) Objects() []*Object {
	ids := s.IDs()
	out := make([]*Object, len(ids))
	for i, id := range ids {
		out[i] = s.objects[id]
	}
	return out
}

// Hash returns the deterministic content hash of the snapshot.
func (s *Snapshot) Hash() string {
	members := make(map[string]any, len(s.objects))
	for id, o := range s.objects {
		members[id] = o.Hash
	}
	h, err := HashCanonical(DomainSnapshot, map[string]any{"objects": members})
	if err != nil {
		// only strings are hashed
		panic(err)
	}
	return h
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := New()
	for id, o := range s.objects {
		c.objects[id] = o.Clone()
	}
	return c
}

// document is the persisted form of a Snapshot.
type document struct {
	Version int       `json:"version"`
	Hash    string    `json:"hash"`
	Objects []*Object `json:"objects"`
}

// MarshalJSON renders the snapshot with objects sorted by identity.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	objs := s.Objects()
	if objs == nil {
		objs = []*Object{}
	}
	return json.Marshal(document{Version: FormatVersion, Hash: s.Hash(), Objects: objs})
}

// UnmarshalJSON restores a snapshot and recomputes object hashes so a hand
// edited file cannot smuggle in a stale hash.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version != 0 && doc.Version != FormatVersion {
		return fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	s.objects = make(map[string]*Object, len(doc.Objects))
	for _, o := range doc.Objects {
		if err := s.Add(o); err != nil {
			return err
		}
	}
	return nil
}

// Encode returns the indented JSON form used for files under version control.
func (s *Snapshot) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Decode parses a snapshot from its JSON form.
func Decode(data []byte) (*Snapshot, error) {
	s := New()
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Load reads a snapshot file. A missing file yields an empty snapshot.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return Decode(data)
}

// Save writes the snapshot to path, creating parent directories.
func Save(path string, s *Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
