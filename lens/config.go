package lens

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
)

// BindMode values.
const (
	BindOverlay = "overlay"
	BindInPlace = "inplace"
)

const defaultStoreDirName = ".lineinject"

// Config holds the settings used to open an Injector.
type Config struct {
	ProjectDir string
	// StoreDir holds the registry database, empty selects <project>/.lineinject.
	StoreDir string
	// InMemory keeps the registry in memory only.
	InMemory bool
	CacheMB  int
	BindMode string
	// OverlayDir holds overlay files, empty selects <store>/overlay.
	OverlayDir                       string
	Verify                           bool
	ReportJsonFile, ReportChartsFile string
	// Computed fields
	Gopath, Gomodcache, AbsProjDir string
	// Internal state tracking
	prepared bool
}

// Prepare validates the config and resolves paths. It may only be invoked once.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if c.ProjectDir == "" {
		return errors.New("project directory is required")
	}

	absProjDir, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	}
	c.AbsProjDir = absProjDir

	if c.StoreDir == "" {
		c.StoreDir = filepath.Join(absProjDir, defaultStoreDirName)
	} else if c.StoreDir, err = filepath.Abs(c.StoreDir); err != nil {
		return fmt.Errorf("error resolving store directory: %w", err)
	}
	if c.OverlayDir == "" {
		c.OverlayDir = filepath.Join(c.StoreDir, "overlay")
	} else if c.OverlayDir, err = filepath.Abs(c.OverlayDir); err != nil {
		return fmt.Errorf("error resolving overlay directory: %w", err)
	}

	switch c.BindMode {
	case "":
		c.BindMode = BindOverlay
	case BindOverlay, BindInPlace:
	default:
		return fmt.Errorf("unknown bind mode: %s", c.BindMode)
	}
	if c.CacheMB <= 0 {
		c.CacheMB = 64
	}

	c.prepared = true
	return nil
}

// NewBinder creates the binder selected by BindMode.
func (c *Config) NewBinder() (Binder, error) {
	env := GoEnv(c.Gopath, c.Gomodcache)
	if c.BindMode == BindInPlace {
		return NewInPlaceBinder(env, c.Verify), nil
	}
	return NewOverlayBinder(c.OverlayDir, env, c.Verify)
}

// OpenInjector prepares the config if needed and opens the registry, cache and binder it describes.
func OpenInjector(c *Config, logger *log.Logger) (*Injector, error) {
	if !c.prepared {
		if err := c.Prepare(); err != nil {
			return nil, err
		}
	}

	var store Storage
	if c.InMemory {
		store = NewMemStorage()
	} else {
		var err error
		store, err = NewBadgerStorage(filepath.Join(c.StoreDir, "registry"), c.CacheMB)
		if err != nil {
			return nil, err
		}
		// a store directory may be shared by several projects
		store = KeyPrefixStorage(store, c.AbsProjDir)
	}
	locator, err := NewSourceLocator(c.CacheMB)
	if err != nil {
		store.Close()
		return nil, err
	}
	binder, err := c.NewBinder()
	if err != nil {
		store.Close()
		locator.Close()
		return nil, err
	}
	return NewInjector(NewRegistry(store), locator, binder, logger), nil
}

// OverlayManifest returns the manifest to pass as `-overlay` when BindMode is overlay.
func (c *Config) OverlayManifest() string {
	return filepath.Join(c.OverlayDir, overlayManifestName)
}
