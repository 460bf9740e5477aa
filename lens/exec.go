package lens

import (
	"context"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

// GoEnv returns environment entries for GOPATH and GOMODCACHE.
func GoEnv(gopath, gomodcache string) []string {
	env := make([]string, 0, 2)
	if gopath != "" {
		env = append(env, "GOPATH="+gopath)
	}
	if gomodcache != "" {
		env = append(env, "GOMODCACHE="+gomodcache)
	}
	return env
}

// NewProjectExec creates a command that runs in projectDir with env applied.
func NewProjectExec(ctx context.Context, projectDir string, env []string, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = projectDir
	cmd.Env = mergeSafeEnv(env)

	return cmd
}

func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env)) // check for os values we want to override
	for i, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		envKeys[i] = parts[0]
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		if envVar == "" || envVar == "=" || strings.HasPrefix(envVar, "LD_") {
			return false // skip unsafe
		} else if parts := strings.SplitN(envVar, "=", 2); slices.Contains(envKeys, parts[0]) {
			return false // will be overridden by custom value
		}
		return true
	}, os.Environ())
	return append(safeEnv, env...)
}

// ExecGoBuild compiles pkgPattern from moduleDir, optionally through an overlay manifest.
// Any executables are written into outDir so the module directory is never touched.
func ExecGoBuild(ctx context.Context, moduleDir string, env []string, overlay, outDir, pkgPattern string, output io.Writer) error {
	args := []string{"build", "-o", outDir + string(os.PathSeparator)}
	if overlay != "" {
		args = append(args, "-overlay="+overlay)
	}
	args = append(args, pkgPattern)
	cmd := NewProjectExec(ctx, moduleDir, env, "go", args...)
	cmd.Stdout = output
	cmd.Stderr = output
	return cmd.Run()
}
