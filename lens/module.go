package lens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// ErrNoModule indicates no go.mod was found above a directory.
var ErrNoModule = errors.New("no go.mod found")

// FindModuleRoot walks up from dir to the closest go.mod, returning the module directory and module path.
func FindModuleRoot(dir string) (string, string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	for d := absDir; ; {
		goMod := filepath.Join(d, "go.mod")
		if data, err := os.ReadFile(goMod); err == nil {
			modPath := modfile.ModulePath(data)
			if modPath == "" {
				return "", "", fmt.Errorf("module path missing in %s", goMod)
			}
			return d, modPath, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("read %s failed: %w", goMod, err)
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", "", fmt.Errorf("%w: %s", ErrNoModule, absDir)
		}
		d = parent
	}
}

// packagePattern returns the relative go package pattern for the directory of filePath within moduleDir.
func packagePattern(moduleDir, filePath string) (string, error) {
	rel, err := filepath.Rel(moduleDir, filepath.Dir(filePath))
	if err != nil {
		return "", err
	} else if rel == "." {
		return ".", nil
	}
	return "./" + filepath.ToSlash(rel), nil
}
