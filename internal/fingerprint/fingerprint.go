// Package fingerprint derives the two cache-key strategies: preprocessed
// mode (hash the preprocessor's output) and direct mode (hash the
// normalized command line plus the raw source, verified against a
// manifest of transitively included files).
package fingerprint

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/inorton/clcache/internal/clerrors"
	"github.com/inorton/clcache/internal/cmdline"
	"github.com/inorton/clcache/internal/compilerexec"
	"github.com/inorton/clcache/internal/store"
	"github.com/inorton/clcache/pkg/hashutil"
)

// Invoker is the subset of *compilerexec.Compiler that fingerprinting
// needs, narrowed for testability.
type Invoker interface {
	Run(ctx context.Context, args ...string) (*compilerexec.Result, error)
}

// Fingerprinter derives and verifies fingerprints for one compiler binary.
type Fingerprinter struct {
	compilerPath string
	compiler     Invoker
}

// New returns a Fingerprinter for compilerPath, invoking it through
// compiler (typically a *compilerexec.Compiler).
func New(compilerPath string, compiler Invoker) *Fingerprinter {
	return &Fingerprinter{compilerPath: compilerPath, compiler: compiler}
}

func (f *Fingerprinter) envHash(args []string) (string, error) {
	mtime, size, err := compilerexec.CompilerFingerprint(f.compilerPath)
	if err != nil {
		return "", err
	}
	normalized := cmdline.NormalizedCommandLine(args)
	return hashutil.Strings(fmt.Sprintf("%d", mtime), fmt.Sprintf("%d", size), strings.Join(normalized, " ")), nil
}

// stripCompileFlags removes "-c"/"/c" from args, since preprocessor-only
// invocations (/EP, /E) must not also request object compilation.
func stripCompileFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-c" || a == "/c" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// PreprocessedFingerprint derives the preprocessed-mode cache key: invoke
// the compiler with /EP, then hash compiler mtime/size, the normalized
// command line, and the full preprocessor output.
//
// If the preprocessor exits non-zero, the returned error wraps
// clerrors.ErrCodePreprocessorFailed and preprocessorResult carries the
// captured stderr/exit code so the caller can surface it and exit with
// the same code, per the "do not poison the cache" contract.
func (f *Fingerprinter) PreprocessedFingerprint(ctx context.Context, args []string) (key string, preprocessorResult *compilerexec.Result, err error) {
	ppArgs := append([]string{"/EP"}, stripCompileFlags(args)...)
	res, err := f.compiler.Run(ctx, ppArgs...)
	if err != nil {
		return "", res, err
	}
	if res.ExitCode != 0 {
		return "", res, clerrors.New(clerrors.ErrCodePreprocessorFailed, "fingerprint",
			fmt.Sprintf("preprocessor exited %d", res.ExitCode))
	}

	env, err := f.envHash(args)
	if err != nil {
		return "", res, err
	}
	key = hashutil.Strings(env, res.Stdout)
	return key, res, nil
}

// DirectFingerprint derives the direct-mode cache key without invoking the
// preprocessor: "<env-hex>-<src-hex>", where the env half covers the
// compiler and normalized command line, and the source half covers the
// single source file's raw contents.
func (f *Fingerprinter) DirectFingerprint(args []string, sourceFile string) (key string, err error) {
	env, err := f.envHash(args)
	if err != nil {
		return "", err
	}
	srcHash, err := hashutil.File(sourceFile)
	if err != nil {
		return "", err
	}
	return env + "-" + srcHash, nil
}

// CheckManifest verifies a direct-mode hit candidate: a raw key match
// alone is insufficient, since an included header may have changed since
// the entry was written. Returns true only if a manifest exists and every
// recorded file still hashes to its recorded value.
func CheckManifest(s *store.Store, key string) (bool, error) {
	manifest, err := s.GetManifest(key)
	if err != nil {
		return false, err
	}
	if manifest == nil {
		return false, nil
	}
	for path, expectedHash := range manifest {
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
		actual, err := hashutil.File(path)
		if err != nil {
			return false, nil
		}
		if actual != expectedHash {
			return false, nil
		}
	}
	return true, nil
}

var lineDirectiveRe = regexp.MustCompile(`^#line\s+\d+\s+"([^"]+)"`)

// GetDirectIncludeFiles discovers a direct-mode entry's manifest: on a
// miss after a successful compile, invoke the compiler with /E
// (preprocessed output with #line markers) and scan stdout for the unique
// set of absolute paths the preprocessor visited, hashing each.
func (f *Fingerprinter) GetDirectIncludeFiles(ctx context.Context, args []string) ([]store.ManifestRecord, error) {
	eArgs := append([]string{"/E"}, stripCompileFlags(args)...)
	res, err := f.compiler.Run(ctx, eArgs...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, clerrors.New(clerrors.ErrCodePreprocessorFailed, "fingerprint",
			fmt.Sprintf("/E preprocessor pass exited %d", res.ExitCode))
	}

	seen := make(map[string]bool)
	var paths []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		m := lineDirectiveRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}

	records := make([]store.ManifestRecord, 0, len(paths))
	for _, path := range paths {
		h, err := hashutil.File(path)
		if err != nil {
			// An included file that vanished between preprocessing and
			// hashing cannot be part of a trustworthy manifest; skip it
			// rather than fail the whole miss.
			continue
		}
		records = append(records, store.ManifestRecord{Hash: h, Path: path})
	}
	return records, nil
}
