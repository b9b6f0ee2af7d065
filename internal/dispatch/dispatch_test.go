package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/inorton/clcache/internal/stats"
)

// writeFakeCompiler installs a shell-script stand-in for cl.exe: under
// /EP it prints the source file's contents (simulating preprocessed
// output); under /E it additionally emits a #line directive so direct
// mode's include scan has something to find; otherwise it writes a fixed
// payload to the /Fo target and exits 0.
func writeFakeCompiler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakecl.sh")
	script := `#!/bin/sh
ep=0
out=""
src=""
for a in "$@"; do
  case "$a" in
    /EP) ep=1 ;;
    /E) ep=2 ;;
    /Fo*) out="${a#/Fo}" ;;
    /*) ;;
    *) src="$a" ;;
  esac
done
if [ "$ep" = "1" ]; then
  cat "$src"
  exit 0
fi
if [ "$ep" = "2" ]; then
  echo "#line 1 \"$src\""
  cat "$src"
  exit 0
fi
if [ -n "$out" ]; then
  echo "OBJECT" > "$out"
fi
echo "compiled-ok"
echo "warning: none" 1>&2
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return path
}

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}

func writeSourceFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return path
}

func newTestDispatcher(t *testing.T, direct, hardlink bool) (*Dispatcher, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	if direct {
		t.Setenv("CLCACHE_DIRECT", "1")
	} else {
		t.Setenv("CLCACHE_DIRECT", "")
	}
	t.Setenv("CLCACHE_DISABLE", "")
	compiler := writeFakeCompiler(t)
	d := New(Options{
		CacheRoot:    cacheRoot,
		CompilerPath: compiler,
		Direct:       direct,
		HardLink:     hardlink,
	})
	return d, cacheRoot
}

func TestDispatchPreprocessedMissThenHit(t *testing.T) {
	d, cacheRoot := newTestDispatcher(t, false, false)
	workDir := t.TempDir()
	chdir(t, workDir)

	// The source is named relative to workDir: an absolute POSIX path
	// begins with "/" and would be parsed as an option.
	writeSourceFile(t, workDir, "a.cpp", "int main(){return 0;}")
	src := "a.cpp"
	outObj := filepath.Join(workDir, "a.obj")

	code := d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj})
	if code != 0 {
		t.Fatalf("miss path exit = %d, want 0", code)
	}
	if _, err := os.Stat(outObj); err != nil {
		t.Fatalf("expected object to be written on miss: %v", err)
	}

	st := stats.Load(cacheRoot)
	if st.CacheMisses() != 1 {
		t.Fatalf("CacheMisses = %d, want 1", st.CacheMisses())
	}
	if st.CacheEntries() != 1 {
		t.Fatalf("CacheEntries = %d, want 1", st.CacheEntries())
	}

	// Remove the object so a hit is the only thing that could recreate it.
	os.Remove(outObj)

	code = d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj})
	if code != 0 {
		t.Fatalf("hit path exit = %d, want 0", code)
	}
	if _, err := os.Stat(outObj); err != nil {
		t.Fatalf("expected object to be materialized on hit: %v", err)
	}

	st = stats.Load(cacheRoot)
	if st.CacheHits() != 1 {
		t.Fatalf("CacheHits = %d, want 1", st.CacheHits())
	}
	if st.CacheMisses() != 1 {
		t.Fatalf("CacheMisses should not grow on a hit, got %d", st.CacheMisses())
	}
}

func TestDispatchDirectModeMissThenHit(t *testing.T) {
	d, cacheRoot := newTestDispatcher(t, true, false)
	workDir := t.TempDir()
	chdir(t, workDir)

	writeSourceFile(t, workDir, "a.cpp", "int main(){return 0;}")
	src := "a.cpp"
	outObj := filepath.Join(workDir, "a.obj")

	if code := d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj}); code != 0 {
		t.Fatalf("miss path exit = %d, want 0", code)
	}

	os.Remove(outObj)
	if code := d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj}); code != 0 {
		t.Fatalf("hit path exit = %d, want 0", code)
	}
	if _, err := os.Stat(outObj); err != nil {
		t.Fatalf("expected object on direct-mode hit: %v", err)
	}

	st := stats.Load(cacheRoot)
	if st.CacheHits() != 1 {
		t.Fatalf("CacheHits = %d, want 1", st.CacheHits())
	}
}

func TestDispatchDirectModeMissesAfterSourceChange(t *testing.T) {
	d, cacheRoot := newTestDispatcher(t, true, false)
	workDir := t.TempDir()
	chdir(t, workDir)

	header := writeSourceFile(t, workDir, "h.h", "#define X 1\n")
	writeSourceFile(t, workDir, "a.cpp", fmt.Sprintf("#include \"%s\"\nint main(){}", header))
	src := "a.cpp"
	outObj := filepath.Join(workDir, "a.obj")

	if code := d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj}); code != 0 {
		t.Fatalf("miss path exit = %d, want 0", code)
	}

	// The fake compiler's /E output names only the source via #line, so
	// the manifest never lists h.h. Changing a.cpp changes the source
	// half of the direct-mode key, so the lookup must miss again.
	writeSourceFile(t, workDir, "a.cpp", "int main(){ return 1; }")

	st := stats.Load(cacheRoot)
	missesBefore := st.CacheMisses()

	if code := d.Run(context.Background(), []string{"/c", src, "/Fo" + outObj}); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}

	st = stats.Load(cacheRoot)
	if st.CacheMisses() != missesBefore+1 {
		t.Fatalf("expected the changed source to invalidate the manifest and miss again, CacheMisses=%d", st.CacheMisses())
	}
}

func TestDispatchSkipsUncacheableAndForwards(t *testing.T) {
	d, cacheRoot := newTestDispatcher(t, false, false)
	workDir := t.TempDir()
	chdir(t, workDir)

	code := d.Run(context.Background(), []string{"/c"})
	if code != 0 {
		t.Fatalf("exit = %d, want 0 (fake compiler always succeeds)", code)
	}

	st := stats.Load(cacheRoot)
	if st.CallsWithoutSourceFile() != 1 {
		t.Fatalf("CallsWithoutSourceFile = %d, want 1", st.CallsWithoutSourceFile())
	}
}

func TestDispatchLinkInvocationForwardsAndCounts(t *testing.T) {
	d, cacheRoot := newTestDispatcher(t, false, false)
	workDir := t.TempDir()
	chdir(t, workDir)
	src := writeSourceFile(t, workDir, "a.cpp", "int main(){}")

	if code := d.Run(context.Background(), []string{src}); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}

	st := stats.Load(cacheRoot)
	if st.CallsForLinking() != 1 {
		t.Fatalf("CallsForLinking = %d, want 1", st.CallsForLinking())
	}
}
