package dispatch

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// effectiveParallelism resolves /MPn: the last occurrence of /MP on the
// command line or in the CL environment variable wins; a bare /MP means
// runtime.NumCPU(); absent means 1.
func effectiveParallelism(args []string, clEnv string) int {
	last := ""
	found := false
	for _, a := range args {
		if v, ok := mpSuffix(a); ok {
			last = v
			found = true
		}
	}
	for _, a := range strings.Fields(clEnv) {
		if v, ok := mpSuffix(a); ok {
			last = v
			found = true
		}
	}
	if !found {
		return 1
	}
	if last == "" {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(last)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func mpSuffix(arg string) (string, bool) {
	for _, prefix := range []string{"/MP", "-MP"} {
		if strings.HasPrefix(arg, prefix) {
			return arg[len(prefix):], true
		}
	}
	return "", false
}

// childArgsForSource builds one source file's fan-out argv: the original
// argv with every *other* source file removed, order preserved.
func childArgsForSource(args []string, keep string, otherSources []string) []string {
	drop := make(map[string]bool, len(otherSources))
	for _, s := range otherSources {
		if s != keep {
			drop[s] = true
		}
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		if drop[a] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ChildRunner invokes one fanned-out child (normally a re-exec of the
// wrapper binary itself) and returns its exit code.
type ChildRunner func(ctx context.Context, args []string) (int, error)

// runFanOut launches one child per source in sources, up to parallelism at
// a time, via an ants.Pool. It stops launching new children after the
// first nonzero exit but lets already-running children finish, and
// returns that first nonzero code (or 0 if every child succeeded).
func runFanOut(ctx context.Context, args []string, sources []string, parallelism int, run ChildRunner) (int, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	pool, err := ants.NewPool(parallelism, ants.WithPreAlloc(true))
	if err != nil {
		return 1, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var firstFailure int32
	var runErr atomic.Value

	for _, source := range sources {
		source := source
		if atomic.LoadInt32(&firstFailure) != 0 {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if atomic.LoadInt32(&firstFailure) != 0 {
				return
			}
			childArgs := childArgsForSource(args, source, sources)
			code, err := run(ctx, childArgs)
			if err != nil {
				runErr.Store(err)
				atomic.CompareAndSwapInt32(&firstFailure, 0, 1)
				return
			}
			if code != 0 {
				atomic.CompareAndSwapInt32(&firstFailure, 0, int32(code))
			}
		})
		if submitErr != nil {
			wg.Done()
			return 1, submitErr
		}
	}
	wg.Wait()

	if e, ok := runErr.Load().(error); ok && e != nil {
		return 1, e
	}
	return int(atomic.LoadInt32(&firstFailure)), nil
}
