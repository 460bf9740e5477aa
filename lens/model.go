package lens

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	functionKeyPrefix = "fn;"
	snapshotKeyPrefix = "src;"
)

// ErrNotRegistered indicates no requests are registered for a function.
var ErrNotRegistered = errors.New("function not registered")

// FunctionRecord is the registration state of one function.
type FunctionRecord struct {
	// Ident is the fully qualified identifier, see MakeFunctionIdent.
	Ident string `msgpack:"id"`
	// FilePath is the full path to the source file.
	FilePath string `msgpack:"fp"`
	// StartLine is the file line holding the func keyword when the function was registered.
	StartLine int `msgpack:"sl"`
	// LineCount is the number of lines of the function when registered.
	LineCount int `msgpack:"lc"`
	// Requests lists the queued injections in registration order.
	Requests []Request `msgpack:"r"`
	// Enabled is set while the injections of the function are bound.
	Enabled bool `msgpack:"e,omitempty"`
}

// ShortIdent returns the function identifier without the package.
func (r FunctionRecord) ShortIdent() string {
	return shortIdent(r.Ident)
}

// Registry persists function records and the pristine snapshot of each file holding a registered function.
// Snapshots are taken the first time a function in a file is registered, so later passes always start from the
// unmodified source even when the file has been rewritten in place.
type Registry struct {
	store Storage
}

// NewRegistry creates a registry over the given storage.
func NewRegistry(store Storage) *Registry {
	return &Registry{store: store}
}

// Close releases the underlying storage.
func (r *Registry) Close() {
	r.store.Close()
}

// Clear removes every record and snapshot.
func (r *Registry) Clear() error {
	return r.store.Clear()
}

// Save stores a function record, replacing any earlier record for the same ident.
func (r *Registry) Save(rec FunctionRecord) error {
	blob, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record %s failed: %w", rec.Ident, err)
	}
	return r.store.SaveState(functionKeyPrefix+rec.Ident, SnappyCompress(nil, blob))
}

// Load returns the record of ident.
func (r *Registry) Load(ident string) (FunctionRecord, bool, error) {
	var rec FunctionRecord
	blob, ok, err := r.store.LoadState(functionKeyPrefix + ident)
	if err != nil || !ok {
		return rec, ok, err
	}
	blob, err = SnappyDecompress(nil, blob)
	if err != nil {
		return rec, false, fmt.Errorf("decompress record %s failed: %w", ident, err)
	} else if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return rec, false, fmt.Errorf("decode record %s failed: %w", ident, err)
	}
	return rec, true, nil
}

// Delete removes the record of ident. The file snapshot is removed once no record references the file.
func (r *Registry) Delete(ident string) error {
	rec, ok, err := r.Load(ident)
	if err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, ident)
	} else if err := r.store.DeleteState(functionKeyPrefix + ident); err != nil {
		return err
	}

	records, err := r.Records()
	if err != nil {
		return err
	}
	for _, other := range records {
		if other.FilePath == rec.FilePath {
			return nil
		}
	}
	return r.store.DeleteState(snapshotKeyPrefix + rec.FilePath)
}

// Idents returns the identifiers of every registered function, sorted.
func (r *Registry) Idents() ([]string, error) {
	keys, err := r.store.ListKeysPrefix(functionKeyPrefix)
	if err != nil {
		return nil, err
	}
	idents := make([]string, len(keys))
	for i, k := range keys {
		idents[i] = strings.TrimPrefix(k, functionKeyPrefix)
	}
	slices.Sort(idents)
	return idents, nil
}

// Records returns every registered function record, sorted by ident.
func (r *Registry) Records() ([]FunctionRecord, error) {
	idents, err := r.Idents()
	if err != nil {
		return nil, err
	}
	records := make([]FunctionRecord, 0, len(idents))
	for _, ident := range idents {
		rec, ok, err := r.Load(ident)
		if err != nil {
			return nil, err
		} else if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// SaveSnapshot stores the pristine contents of path unless a snapshot already exists.
func (r *Registry) SaveSnapshot(path string, src []byte) error {
	if _, ok, err := r.store.LoadState(snapshotKeyPrefix + path); err != nil {
		return err
	} else if ok {
		return nil
	}
	return r.store.SaveState(snapshotKeyPrefix+path, ZstdCompress(nil, src))
}

// Snapshot returns the pristine contents of path.
func (r *Registry) Snapshot(path string) ([]byte, bool, error) {
	blob, ok, err := r.store.LoadState(snapshotKeyPrefix + path)
	if err != nil || !ok {
		return nil, ok, err
	}
	src, err := ZstdDecompress(nil, blob)
	if err != nil {
		return nil, false, fmt.Errorf("decompress snapshot %s failed: %w", path, err)
	}
	return src, true, nil
}
