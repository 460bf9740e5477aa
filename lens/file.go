package lens

import (
	"io"
	"os"
	"path/filepath"
)

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

func replaceFile(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		if err = os.Remove(destination); err != nil {
			return err
		}
	}

	// Rename the source to the destination (requires same filesystem)
	return os.Rename(source, destination)
}

// writeFileAtomic writes to a temporary sibling and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	} else if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	} else if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// CopyFile copies src to dst. If src is a symlink, it recreates the symlink at dst pointing to the same target.
// Otherwise, it copies the file’s contents (using os.Create’s default mode).
func CopyFile(src, dst string) (err error) {
	if info, err := os.Lstat(src); err != nil {
		return err
	} else if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // uses default file mode (0666 & umask)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
