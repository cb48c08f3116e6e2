package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	cimpl "github.com/distr1/cimpl"
)

// rootName is the distinguished snapshot name that always resolves to a
// fresh, ancestorless, empty snapshot rather than a file on disk.
const rootName = "root"

// Store persists snapshots as one timestamped JSON file per snapshot in a
// directory (spec §4.7), grounded on cimple's snapshot/core.py
// dump_snapshot/load_snapshot. encoding/json is used directly rather than
// through a third-party codec: the snapshot JSON is a single well-specified
// output schema, and no example repo in this corpus reaches for a
// third-party JSON library for that role (go-cmp, toml and protobuf cover
// the cases where the corpus does reach past the standard library).
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir. dir must already exist.
func NewStore(dir string) *Store { return &Store{Dir: dir} }

// NewTimestampName returns the YYYYMMDD-HHMMSS (UTC) name a freshly built
// snapshot should be dumped under.
func NewTimestampName(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// Dump serializes snap to its timestamped file. It fails with
// SnapshotExists if that file is already present, per spec §4.7.
func (s *Store) Dump(snap *Snapshot) error {
	path := s.path(snap.Name)
	if _, err := os.Stat(path); err == nil {
		return &SnapshotExists{Name: snap.Name}
	} else if !os.IsNotExist(err) {
		return xerrors.Errorf("stat %s: %w", path, err)
	}
	if err := assertSerializable(snap); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshal snapshot %s: %w", snap.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Errorf("write snapshot %s: %w", snap.Name, err)
	}
	return nil
}

// assertSerializable enforces I4: every binary package must have a real
// sha256 before the snapshot can be serialized.
func assertSerializable(snap *Snapshot) error {
	for name, bin := range snap.BinPkgs {
		if bin.SHA256 == PlaceholderSHA256 {
			return &BuildIncomplete{Bin: cimpl.BinPkgId(name)}
		}
	}
	for name, bin := range snap.BootstrapBinPkgs {
		if bin.SHA256 == PlaceholderSHA256 {
			return &BuildIncomplete{Bin: cimpl.BinPkgId(name)}
		}
	}
	return nil
}

// Load reads a snapshot by name. Loading "root" always returns a fresh
// empty snapshot with no ancestor, regardless of what is on disk.
func (s *Store) Load(name string) (*Snapshot, error) {
	if name == rootName {
		return Empty(rootName), nil
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, xerrors.Errorf("load snapshot %s: %w", name, err)
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, &CorruptedSnapshot{Detail: err.Error()}
	}
	return snap, nil
}
