// Command clcache is a content-addressed caching wrapper around a real
// C/C++ compiler: it recognizes a handful of management-mode forms, and
// otherwise forwards its argv to internal/dispatch as a compiler
// invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inorton/clcache/internal/appconfig"
	"github.com/inorton/clcache/internal/compilerexec"
	"github.com/inorton/clcache/internal/config"
	"github.com/inorton/clcache/internal/dispatch"
	"github.com/inorton/clcache/internal/logging"
	"github.com/inorton/clcache/internal/metrics"
	"github.com/inorton/clcache/internal/stats"
)

const usage = `clcache: a caching compiler wrapper

Usage:
  clcache --help              show this message
  clcache -s                  print cache statistics
  clcache -z                  reset statistics counters
  clcache -M <bytes>           set the maximum cache size
  clcache <compiler args...>  compile, serving a cached object on a hit
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run handles the exact single-argument management forms before anything
// else touches argv, then falls through to passthrough/dispatch. It is
// deliberately not routed through a general-purpose flag parser: an
// unrecognized compiler flag must reach internal/dispatch byte-for-byte.
func run(argv []string) int {
	cacheRoot := cacheRootFromEnv()

	switch {
	case len(argv) == 1 && argv[0] == "--help":
		fmt.Print(usage)
		return 0
	case len(argv) == 1 && argv[0] == "-s":
		return printStats(cacheRoot)
	case len(argv) == 1 && argv[0] == "-z":
		return resetStats(cacheRoot)
	case len(argv) == 2 && argv[0] == "-M":
		return setMaxSize(cacheRoot, argv[1])
	}

	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "clcache: cannot create cache root %s: %v\n", cacheRoot, err)
		return 1
	}

	return dispatchCompile(cacheRoot, argv)
}

func cacheRootFromEnv() string {
	if dir := os.Getenv("CLCACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "clcache")
}

func printStats(cacheRoot string) int {
	st := stats.Load(cacheRoot)
	fmt.Printf("CallsWithoutSourceFile:       %d\n", st.CallsWithoutSourceFile())
	fmt.Printf("CallsWithMultipleSourceFiles: %d\n", st.CallsWithMultipleSourceFiles())
	fmt.Printf("CallsWithPch:                 %d\n", st.CallsWithPch())
	fmt.Printf("CallsForLinking:              %d\n", st.CallsForLinking())
	fmt.Printf("CacheEntries:                 %d\n", st.CacheEntries())
	fmt.Printf("CacheSize:                    %d\n", st.CacheSize())
	fmt.Printf("CacheHits:                    %d\n", st.CacheHits())
	fmt.Printf("CacheMisses:                  %d\n", st.CacheMisses())
	return 0
}

func resetStats(cacheRoot string) int {
	st := stats.Load(cacheRoot)
	st.ResetCounters()
	if err := st.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "clcache: failed to save statistics: %v\n", err)
		return 1
	}
	return 0
}

func setMaxSize(cacheRoot, raw string) int {
	var bytes int64
	if _, err := fmt.Sscanf(raw, "%d", &bytes); err != nil || bytes <= 0 {
		fmt.Fprintf(os.Stderr, "clcache: invalid size %q\n", raw)
		return 1
	}
	cfg := config.Load(cacheRoot)
	cfg.SetMaximumCacheSize(bytes)
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "clcache: failed to save configuration: %v\n", err)
		return 1
	}
	return 0
}

func dispatchCompile(cacheRoot string, argv []string) int {
	compilerPath, err := compilerexec.FindCompiler()
	if err != nil {
		fmt.Fprintln(os.Stderr, "clcache: no compiler found (set CLCACHE_CL or put cl.exe on PATH)")
		return 1
	}

	appCfg, err := appconfig.Load(appconfig.ResolvePath(cacheRoot))
	if err != nil {
		fmt.Fprintf(os.Stderr, "clcache: ignoring invalid clcache.yaml: %v\n", err)
		appCfg = appconfig.Default()
	}

	log := newLogger(appCfg)

	var collector *metrics.Collector
	addr := os.Getenv("CLCACHE_METRICS_ADDR")
	if addr == "" {
		addr = appCfg.Metrics.ListenAddr
	}
	if addr != "" {
		collector = metrics.NewCollector()
		if err := collector.Serve(addr); err != nil {
			log.Warnf("metrics listener failed to start on %s: %v", addr, err)
			collector = nil
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = collector.Shutdown(ctx)
			}()
		}
	}

	selfExe, err := os.Executable()
	if err != nil {
		selfExe = ""
	}

	d := dispatch.New(dispatch.Options{
		CacheRoot:    cacheRoot,
		CompilerPath: compilerPath,
		Direct:       os.Getenv("CLCACHE_DIRECT") != "",
		HardLink:     os.Getenv("CLCACHE_HARDLINK") != "",
		CLEnv:        os.Getenv("CL"),
		SelfExe:      selfExe,
		LockTimeout:  lockTimeoutFromEnv(),
		Logger:       log,
		Metrics:      collector,
	})

	return d.Run(context.Background(), argv)
}

func lockTimeoutFromEnv() time.Duration {
	raw := os.Getenv("CLCACHE_LOCK_TIMEOUT")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func newLogger(appCfg *appconfig.AppConfig) *logging.Logger {
	if os.Getenv("CLCACHE_LOG") != "" {
		return logging.NewFromTraceFlag(true)
	}
	level := logging.Info
	switch appCfg.Logging.Level {
	case "trace":
		level = logging.Trace
	case "debug":
		level = logging.Debug
	case "warn":
		level = logging.Warn
	case "error":
		level = logging.Error
	}
	format := logging.FormatText
	if appCfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.New(os.Stderr, level, format)
}
