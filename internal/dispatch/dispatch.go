// Package dispatch is the top-level orchestrator: it expands and
// classifies one invocation, then fans out, forwards uncached, serves a
// hit, or runs the compiler and inserts a new entry.
package dispatch

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/inorton/clcache/internal/clerrors"
	"github.com/inorton/clcache/internal/cmdline"
	"github.com/inorton/clcache/internal/compilerexec"
	"github.com/inorton/clcache/internal/config"
	"github.com/inorton/clcache/internal/fingerprint"
	"github.com/inorton/clcache/internal/lock"
	"github.com/inorton/clcache/internal/logging"
	"github.com/inorton/clcache/internal/metrics"
	"github.com/inorton/clcache/internal/stats"
	"github.com/inorton/clcache/internal/store"
)

// Options configures a Dispatcher. Fields left zero take the documented
// default.
type Options struct {
	CacheRoot    string
	CompilerPath string
	Direct       bool
	HardLink     bool
	CLEnv        string // the CL environment variable, for /MP detection
	SelfExe      string // path to the wrapper binary, re-exec'd for fan-out children
	LockTimeout  time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Collector // nil disables metrics recording
}

// Dispatcher wires every package together into one invocation's flow.
type Dispatcher struct {
	opts       Options
	lock       *lock.Lock
	store      *store.Store
	compiler   *compilerexec.Compiler
	fingerprnt *fingerprint.Fingerprinter
	log        *logging.Logger
	metrics    *metrics.Collector
}

// New builds a Dispatcher from opts.
func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logging.New(os.Stderr, logging.Info, logging.FormatText)
	}
	compiler := compilerexec.New(opts.CompilerPath, "", nil)
	return &Dispatcher{
		opts:       opts,
		lock:       lock.New(opts.CacheRoot, opts.LockTimeout),
		store:      store.New(opts.CacheRoot),
		compiler:   compiler,
		fingerprnt: fingerprint.New(opts.CompilerPath, compiler),
		log:        log.WithComponent("dispatch"),
		metrics:    opts.Metrics,
	}
}

// Run executes the full invocation flow for argv (the compiler command,
// not including the wrapper's own executable name) and returns the exit
// code the wrapper process should use.
func (d *Dispatcher) Run(ctx context.Context, argv []string) int {
	start := time.Now()
	code := d.run(ctx, argv)
	if d.metrics != nil {
		d.metrics.ObserveDispatch(time.Since(start))
	}
	return code
}

func (d *Dispatcher) run(ctx context.Context, argv []string) int {
	if os.Getenv("CLCACHE_DISABLE") != "" {
		code, err := compilerexec.Passthrough(ctx, d.opts.CompilerPath, argv)
		if err != nil {
			d.log.Errorf("passthrough failed: %v", err)
		}
		return code
	}

	cwd, err := os.Getwd()
	if err != nil {
		d.log.Errorf("getwd: %v", err)
		return 1
	}

	expanded, err := cmdline.Expand(argv, cwd, cmdline.OSFileReader)
	if err != nil {
		d.log.Errorf("response file expansion: %v", err)
		return 1
	}
	parsed := cmdline.Parse(expanded)
	analysis := cmdline.Analyze(parsed, cwd, cmdline.DefaultIsDir)

	switch analysis.Kind {
	case cmdline.MultipleSourceFilesSimple:
		return d.fanOut(ctx, expanded, analysis.Sources)
	case cmdline.Ok:
		return d.dispatchOk(ctx, expanded, analysis)
	default:
		return d.passthroughUncached(ctx, argv, analysis.Kind)
	}
}

// fanOut launches one child wrapper invocation per source file, bounded
// by effective /MPn parallelism.
func (d *Dispatcher) fanOut(ctx context.Context, args []string, sources []string) int {
	j := effectiveParallelism(args, d.opts.CLEnv)
	code, err := runFanOut(ctx, args, sources, j, d.runChild)
	if err != nil {
		d.log.Errorf("fan-out: %v", err)
		return 1
	}
	return code
}

func (d *Dispatcher) runChild(ctx context.Context, args []string) (int, error) {
	if d.opts.SelfExe == "" {
		return 1, clerrors.New(clerrors.ErrCodeCompilerNotFound, "dispatch", "no wrapper executable configured for fan-out")
	}
	cmd := exec.CommandContext(ctx, d.opts.SelfExe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Env = os.Environ()
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

// passthroughUncached implements step 4: bump the matching skip counter
// under the lock, then forward the original argv uncached.
func (d *Dispatcher) passthroughUncached(ctx context.Context, originalArgv []string, kind cmdline.Kind) int {
	lockErr := d.lock.WithLock(func() error {
		st := stats.Load(d.opts.CacheRoot)
		switch kind {
		case cmdline.NoSourceFile:
			st.RegisterCallWithoutSourceFile()
			d.recordSkip(metrics.SkipNoSourceFile)
		case cmdline.MultipleSourceFilesComplex:
			st.RegisterCallWithMultipleSourceFiles()
			d.recordSkip(metrics.SkipMultipleSourceFiles)
		case cmdline.CalledWithPch:
			st.RegisterCallWithPch()
			d.recordSkip(metrics.SkipPch)
		case cmdline.CalledForLink:
			st.RegisterCallForLinking()
			d.recordSkip(metrics.SkipLink)
		case cmdline.ExternalDebugInfo:
			d.recordSkip(metrics.SkipExternalDebugInfo)
		}
		return st.Save()
	})
	if lockErr != nil {
		d.log.Warnf("stats update skipped: %v", lockErr)
	}

	code, err := compilerexec.Passthrough(ctx, d.opts.CompilerPath, originalArgv)
	if err != nil {
		d.log.Errorf("passthrough failed: %v", err)
	}
	return code
}

func (d *Dispatcher) recordSkip(reason metrics.SkipReason) {
	if d.metrics != nil {
		d.metrics.RecordSkip(reason)
	}
}

// dispatchOk implements steps 5-8 for a single cacheable source file.
func (d *Dispatcher) dispatchOk(ctx context.Context, args []string, analysis cmdline.Analysis) int {
	direct := os.Getenv("CLCACHE_DIRECT") != ""

	if direct {
		return d.dispatchDirect(ctx, args, analysis)
	}
	return d.dispatchPreprocessed(ctx, args, analysis)
}

func (d *Dispatcher) dispatchPreprocessed(ctx context.Context, args []string, analysis cmdline.Analysis) int {
	key, ppResult, err := d.fingerprnt.PreprocessedFingerprint(ctx, args)
	if err != nil {
		if code, ok := clerrors.CodeOf(err); ok && code == clerrors.ErrCodePreprocessorFailed {
			if ppResult != nil {
				io.WriteString(os.Stderr, ppResult.Stderr)
				return ppResult.ExitCode
			}
			return 1
		}
		d.log.Errorf("fingerprint: %v", err)
		return 1
	}

	if d.store.HasEntry(key) {
		return d.serveHit(key, analysis.OutputFile)
	}
	return d.compileAndInsert(ctx, args, analysis, key, nil)
}

func (d *Dispatcher) dispatchDirect(ctx context.Context, args []string, analysis cmdline.Analysis) int {
	key, err := d.fingerprnt.DirectFingerprint(args, analysis.SourceFile)
	if err != nil {
		d.log.Errorf("fingerprint: %v", err)
		return 1
	}

	ok, err := fingerprint.CheckManifest(d.store, key)
	if err != nil {
		d.log.Warnf("manifest check: %v", err)
	}
	if ok {
		return d.serveHit(key, analysis.OutputFile)
	}
	return d.compileAndInsert(ctx, args, analysis, key, nil)
}

// serveHit implements step 7.
func (d *Dispatcher) serveHit(key, outputFile string) int {
	entry := d.store.OpenEntry(key)

	var hitErr error
	lockErr := d.lock.WithLock(func() error {
		st := stats.Load(d.opts.CacheRoot)
		st.RegisterCacheHit()
		if d.metrics != nil {
			d.metrics.RecordHit()
		}
		hitErr = st.Save()
		return hitErr
	})
	if lockErr != nil {
		d.log.Warnf("hit stats update failed: %v", lockErr)
	}

	_ = os.Remove(outputFile)
	if err := materialize(entry.ObjectPath, outputFile, d.opts.HardLink); err != nil {
		d.log.Errorf("materializing %s: %v", outputFile, err)
		return 1
	}

	replayFile(entry.StderrPath, os.Stderr)
	replayFile(entry.StdoutPath, os.Stdout)
	return 0
}

// materialize copies or hard-links src to dst. On a successful hard link
// the link's mtime is touched to "now" so build systems observe a fresh
// target, since a hard-linked inode otherwise keeps the original entry's
// mtime.
func materialize(src, dst string, hardlink bool) error {
	if hardlink {
		if err := os.Link(src, dst); err == nil {
			now := time.Now()
			return os.Chtimes(dst, now, now)
		}
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func replayFile(path string, w io.Writer) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

// compileAndInsert implements step 8: invoke the real compiler, and on
// success insert a new entry under the lock.
func (d *Dispatcher) compileAndInsert(ctx context.Context, args []string, analysis cmdline.Analysis, key string, _ []store.ManifestRecord) int {
	res, err := d.compiler.Run(ctx, args...)
	if err != nil {
		d.log.Errorf("compiler invocation: %v", err)
		return 1
	}

	insertErr := d.lock.WithLock(func() error {
		st := stats.Load(d.opts.CacheRoot)
		st.RegisterCacheMiss()
		if d.metrics != nil {
			d.metrics.RecordMiss()
		}

		if res.ExitCode == 0 {
			if _, statErr := os.Stat(analysis.OutputFile); statErr == nil {
				if err := d.insertEntry(ctx, args, analysis, key, res, st); err != nil {
					d.log.Warnf("entry insertion abandoned: %v", err)
				}
			}
		}
		return st.Save()
	})
	if insertErr != nil {
		d.log.Warnf("miss bookkeeping failed: %v", insertErr)
	}

	io.WriteString(os.Stderr, res.Stderr)
	io.WriteString(os.Stdout, res.Stdout)
	return res.ExitCode
}

// insertEntry writes the manifest (direct mode only), copies the object
// and captured streams into the store, and runs eviction. Must be called
// with the lock held.
func (d *Dispatcher) insertEntry(ctx context.Context, args []string, analysis cmdline.Analysis, key string, res *compilerexec.Result, st *stats.Statistics) error {
	if os.Getenv("CLCACHE_DIRECT") != "" {
		records, err := d.fingerprnt.GetDirectIncludeFiles(ctx, args)
		if err == nil {
			if err := d.store.WriteManifest(key, records); err != nil {
				return err
			}
		} else {
			d.log.Warnf("include discovery failed, entry left without a manifest: %v", err)
		}
	}

	size, err := d.store.SetEntry(key, analysis.OutputFile, res.Stdout, res.Stderr)
	if err != nil {
		return err
	}
	st.RegisterCacheEntry(size)
	if d.metrics != nil {
		d.metrics.SetCacheEntries(st.CacheEntries())
		d.metrics.SetCacheSizeBytes(st.CacheSize())
	}

	cfg := config.Load(d.opts.CacheRoot)
	newSize, removed, err := d.store.Clean(st.CacheSize(), cfg.MaximumCacheSize())
	if err != nil {
		return err
	}
	if removed > 0 {
		st.SetCacheSize(newSize)
		st.SetCacheEntries(st.CacheEntries() - int64(removed))
		if d.metrics != nil {
			d.metrics.SetCacheSizeBytes(newSize)
			d.metrics.SetCacheEntries(st.CacheEntries())
		}
	}
	return nil
}
