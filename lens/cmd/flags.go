package cmd

import (
	"errors"
	"go/build"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/PatchLens/go-inject-lens/lens"
)

// bindGlobalFlags registers the flags shared by every subcommand.
func bindGlobalFlags(flags *pflag.FlagSet, config *lens.Config) {
	flags.StringVar(&config.ProjectDir, "project", ".", "Path to the project directory")
	flags.StringVar(&config.StoreDir, "store", "", "Registry directory (default <project>/.lineinject)")
	flags.BoolVar(&config.InMemory, "memory", false, "Keep the registry in memory, nothing is persisted after the command")
	flags.IntVar(&config.CacheMB, "cachemb", 64, "Cache memory budget in MB")
	flags.StringVar(&config.BindMode, "bind", lens.BindOverlay, "Bind mode, values can be: overlay (default), inplace")
	flags.StringVar(&config.OverlayDir, "overlay", "", "Overlay directory (default <store>/overlay)")
	flags.BoolVar(&config.Verify, "verify", true, "Compile packages before binding injected source")
}

func setupEnvironment(c *lens.Config) error {
	c.Gopath = build.Default.GOPATH
	c.Gomodcache = os.Getenv("GOMODCACHE")
	if c.Gomodcache == "" {
		if c.Gopath == "" {
			return errors.New("neither GOMODCACHE nor GOPATH is set")
		}
		c.Gomodcache = filepath.Join(c.Gopath, "pkg", "mod")
	}
	return nil
}
