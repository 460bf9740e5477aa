package lens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrRebind indicates regenerated source could not be compiled or bound. The previous binding is left in place.
var ErrRebind = errors.New("rebind failure")

const (
	overlayManifestName = "overlay.json"
	backupSuffix        = ".bkp"
	buildOutputLimit    = 16 * 1024
)

var bindFileLock = newDefaultStripedMutex()

// Binder makes regenerated source visible to the go toolchain in place of a source file, and reverts it.
type Binder interface {
	// Bind replaces the source of path with src. On failure the previous state of path is unchanged.
	Bind(ctx context.Context, path string, src []byte) error
	// Unbind restores the pristine source of path. Unbinding a path that is not bound is a no-op.
	Unbind(path string) error
	// Bound reports if path is currently replaced.
	Bound(path string) bool
}

// compileCheck builds the package of path, with overlay applied when not empty.
func compileCheck(ctx context.Context, env []string, path, overlay string) error {
	moduleDir, modPath, err := FindModuleRoot(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}
	pkg, err := packagePattern(moduleDir, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}
	outDir, err := os.MkdirTemp("", "lineinject-build-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	var buf bytes.Buffer
	if err := ExecGoBuild(ctx, moduleDir, env, overlay, outDir, pkg,
		newLimitedRollingBufferWriter(&buf, buildOutputLimit)); err != nil {
		return fmt.Errorf("%w: build %s (%s) failed: %v\n%s", ErrRebind, pkg, modPath, err, buf.String())
	}
	return nil
}

type overlayManifest struct {
	Replace map[string]string
}

// OverlayBinder writes regenerated files into a directory and lists them in an overlay manifest, usable with
// `go build -overlay` or `go test -overlay`. Source files are never modified.
type OverlayBinder struct {
	dir    string
	env    []string
	verify bool
	mu     sync.Mutex // guards the manifest file
}

// NewOverlayBinder creates an overlay binder storing its files within dir.
// When verify is set every bind is compiled before the manifest is updated.
func NewOverlayBinder(dir string, env []string, verify bool) (*OverlayBinder, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	} else if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create overlay dir failed: %w", err)
	}
	return &OverlayBinder{dir: absDir, env: env, verify: verify}, nil
}

// ManifestPath returns the overlay manifest to pass to the go toolchain.
func (b *OverlayBinder) ManifestPath() string {
	return filepath.Join(b.dir, overlayManifestName)
}

func (b *OverlayBinder) overlayFile(absPath string) string {
	h := bindFileLock.hash(absPath)
	return filepath.Join(b.dir, strconv.FormatUint(h, 36)+"_"+filepath.Base(absPath))
}

func (b *OverlayBinder) loadManifest() (overlayManifest, error) {
	m := overlayManifest{Replace: make(map[string]string)}
	data, err := os.ReadFile(b.ManifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	} else if err != nil {
		return m, err
	} else if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("invalid overlay manifest %s: %w", b.ManifestPath(), err)
	} else if m.Replace == nil {
		m.Replace = make(map[string]string)
	}
	return m, nil
}

func (b *OverlayBinder) writeManifest(path string, m overlayManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

func (b *OverlayBinder) Bind(ctx context.Context, path string, src []byte) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	lock := bindFileLock.Lock(absPath)
	defer lock.Unlock()

	target := b.overlayFile(absPath)
	staged := target + ".next"
	if err := os.WriteFile(staged, src, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}
	if b.verify {
		b.mu.Lock()
		m, err := b.loadManifest()
		b.mu.Unlock()
		if err != nil {
			_ = os.Remove(staged)
			return err
		}
		check := maps.Clone(m.Replace)
		check[absPath] = staged
		checkPath := filepath.Join(b.dir, "check_"+filepath.Base(target)+".json")
		if err := b.writeManifest(checkPath, overlayManifest{Replace: check}); err != nil {
			_ = os.Remove(staged)
			return err
		}
		err = compileCheck(ctx, b.env, absPath, checkPath)
		_ = os.Remove(checkPath)
		if err != nil {
			_ = os.Remove(staged)
			return err
		}
	}
	if err := os.Rename(staged, target); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.loadManifest()
	if err != nil {
		return err
	}
	m.Replace[absPath] = target
	return b.writeManifest(b.ManifestPath(), m)
}

func (b *OverlayBinder) Unbind(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	lock := bindFileLock.Lock(absPath)
	defer lock.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.loadManifest()
	if err != nil {
		return err
	}
	target, ok := m.Replace[absPath]
	if !ok {
		return nil
	}
	delete(m.Replace, absPath)
	if err := b.writeManifest(b.ManifestPath(), m); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *OverlayBinder) Bound(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.loadManifest()
	if err != nil {
		return false
	}
	_, ok := m.Replace[absPath]
	return ok
}

// InPlaceBinder rewrites source files directly, keeping a .bkp copy of the pristine file for Unbind.
type InPlaceBinder struct {
	env    []string
	verify bool
}

// NewInPlaceBinder creates a binder that edits files in place.
func NewInPlaceBinder(env []string, verify bool) *InPlaceBinder {
	return &InPlaceBinder{env: env, verify: verify}
}

func (b *InPlaceBinder) Bind(ctx context.Context, path string, src []byte) error {
	lock := bindFileLock.Lock(path)
	defer lock.Unlock()

	prev, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebind, err)
	}
	bkpFile := path + backupSuffix
	var createdBackup bool
	if !FileExists(bkpFile) {
		if err := CopyFile(path, bkpFile); err != nil {
			return fmt.Errorf("%w: backup failure: %w", ErrRebind, err)
		}
		createdBackup = true
	}
	revert := func() error {
		err := os.WriteFile(path, prev, info.Mode().Perm())
		if createdBackup {
			err = errors.Join(err, os.Remove(bkpFile))
		}
		return err
	}

	if err := writeFileAtomic(path, src, info.Mode().Perm()); err != nil {
		return errors.Join(fmt.Errorf("%w: %w", ErrRebind, err), revert())
	} else if b.verify {
		if err := compileCheck(ctx, b.env, path, ""); err != nil {
			return errors.Join(err, revert())
		}
	}
	return nil
}

func (b *InPlaceBinder) Unbind(path string) error {
	lock := bindFileLock.Lock(path)
	defer lock.Unlock()

	bkpFile := path + backupSuffix
	if !FileExists(bkpFile) {
		return nil
	}
	return replaceFile(bkpFile, path)
}

func (b *InPlaceBinder) Bound(path string) bool {
	return FileExists(path + backupSuffix)
}
