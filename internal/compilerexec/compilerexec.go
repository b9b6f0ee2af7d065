// Package compilerexec invokes the real compiler binary as a subprocess,
// capturing its stdout, stderr, and exit code.
package compilerexec

import (
	"context"
	"os"
	"os/exec"

	execlib "github.com/jmgilman/go/exec"
)

// Result mirrors the real compiler's outcome: captured streams and the
// exit code, populated even when the process exited non-zero.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Compiler invokes a fixed compiler binary with varying argument lists,
// built on top of github.com/jmgilman/go/exec's Executor.
type Compiler struct {
	binary   string
	executor execlib.Executor
}

// New returns a Compiler that invokes binary, in workDir, with the given
// environment overrides merged into the inherited environment.
func New(binary, workDir string, env map[string]string) *Compiler {
	ex := execlib.New(execlib.WithInheritEnv(), execlib.WithDir(workDir), execlib.WithEnv(env))
	return &Compiler{binary: binary, executor: ex}
}

// Run executes the compiler with args (not including the binary name
// itself) and returns the captured result. A non-zero exit code is
// returned alongside a populated Result, not just an error, since callers
// need the captured streams even on failure.
func (c *Compiler) Run(ctx context.Context, args ...string) (*Result, error) {
	full := append([]string{c.binary}, args...)
	res, err := c.executor.WithContext(ctx).Run(full...)
	if res == nil {
		return nil, err
	}
	out := &Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if err != nil {
		if _, ok := err.(*execlib.ExecError); ok {
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// Passthrough execs the compiler with the original argv, streaming its
// stdout/stderr directly to the wrapper's own, and returns its exit code.
// Used for CLCACHE_DISABLE and for every uncacheable classification.
func Passthrough(ctx context.Context, binary string, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}

// FindCompiler resolves the real compiler binary: CLCACHE_CL if set,
// otherwise "cl.exe" (or "cl" outside Windows-style toolchains) found on
// PATH.
func FindCompiler() (string, error) {
	if explicit := os.Getenv("CLCACHE_CL"); explicit != "" {
		return explicit, nil
	}
	for _, name := range []string{"cl.exe", "cl"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// CompilerFingerprint returns the compiler binary's mtime (Unix nanos) and
// size, both of which feed the fingerprint's env half.
func CompilerFingerprint(binary string) (mtimeNanos int64, size int64, err error) {
	info, err := os.Stat(binary)
	if err != nil {
		return 0, 0, err
	}
	return info.ModTime().UnixNano(), info.Size(), nil
}
