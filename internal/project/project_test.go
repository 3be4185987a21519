package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symdb-dev/symdb/internal/flagcache"
	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/record"
)

// syncPoster runs every task inline, making builds synchronous and
// deterministic in tests.
type syncPoster struct {
	ix *parser.Index
}

func (sp *syncPoster) PostToMain(task func())                { task() }
func (sp *syncPoster) PostToWorker(task func(*parser.Index)) { task(sp.ix) }

// queuePoster queues worker tasks without running them, to observe
// scheduling behavior.
type queuePoster struct {
	ix     *parser.Index
	main   []func()
	worker []func(*parser.Index)
}

func (qp *queuePoster) PostToMain(task func())                { qp.main = append(qp.main, task) }
func (qp *queuePoster) PostToWorker(task func(*parser.Index)) { qp.worker = append(qp.worker, task) }

// moduleSpec describes one module of a test tree: directory name and its
// source files.
type moduleSpec struct {
	name  string
	files map[string]string // relative file name -> content
}

// fakeCmake returns a configure command that scans the source tree the way
// cmake would and emits a compile_commands.json grouping each file's parent
// directory into a module.
func fakeCmake(t *testing.T) []string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "configure.sh")
	content := `#!/bin/sh
set -e
src="$1"
build="$2"
find "$src" -name '*.cpp' -not -path "$build/*" | sort | awk -v build="$build" '
BEGIN { printf "[" }
{
  n = split($0, parts, "/");
  dir = parts[n-1];
  if (NR > 1) printf ",";
  printf "{\"file\":\"%s\",\"directory\":\"%s/%s\",\"command\":\"/usr/bin/c++ -c -o out.o %s\"}", $0, build, dir, $0;
}
END { printf "]" }' > "$build/compile_commands.json"
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0755))
	return []string{"/bin/sh", script, flagcache.SourceDirVar, flagcache.BuildDirVar}
}

// writeTestTree lays out a home directory; each module is one sub-directory.
func writeTestTree(t *testing.T, modules []moduleSpec) (home string, configure []string) {
	t.Helper()
	home = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "CMakeLists.txt"),
		[]byte("project(demo)\n"), 0644))

	for _, m := range modules {
		dir := filepath.Join(home, m.name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for file, content := range m.files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
		}
	}

	return home, fakeCmake(t)
}

func failingConfigure(t *testing.T) []string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0755))
	return []string{"/bin/sh", script}
}

func newTestDeps(t *testing.T, configure []string) Deps {
	t.Helper()
	ix, err := parser.NewIndex()
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	return Deps{
		DataDir:          t.TempDir(),
		Poster:           &syncPoster{ix: ix},
		ConfigureCommand: configure,
	}
}

func newTestProject(t *testing.T, modules []moduleSpec) (*Project, string) {
	t.Helper()
	home, configure := writeTestTree(t, modules)
	deps := newTestDeps(t, configure)
	p, err := CreateFromConfigFile("demo", home, deps)
	require.NoError(t, err)
	t.Cleanup(p.Drop)
	return p, home
}

// bumpMtime moves a file's mtime forward so the skip cache notices it.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	bumpMtime(t, path)
}

func TestFreshIndex(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})

	locs, err := p.QuerySymbolDefinition("c:@F@fn#")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, filepath.Join(home, "src", "a.cpp"), locs[0].Path)
	assert.Equal(t, uint32(1), locs[0].Line)
	assert.Equal(t, uint32(6), locs[0].Col)

	assert.Equal(t, []string{filepath.Join("src", "a.cpp")}, p.ListFiles())

	symbols, err := p.ListFileSymbols(filepath.Join("src", "a.cpp"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c:@F@fn#"}, symbols)
}

func TestUnchangedFileSkipsCommit(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})
	abs := filepath.Join(home, "src", "a.cpp")

	// remove the aggregated row behind the indexer's back; a skipped build
	// must not bring it back
	require.NoError(t, p.db.Delete(record.SymbolDefinitionKey("c:@F@fn#")))

	p.BuildFile(abs)
	_, err := p.QuerySymbolDefinition("c:@F@fn#")
	assert.ErrorIs(t, err, ErrSymbolNotFound, "matching mtime short-circuits the parse")

	// same content with a newer mtime: the md5 check skips the parse too
	bumpMtime(t, abs)
	p.BuildFile(abs)
	_, err = p.QuerySymbolDefinition("c:@F@fn#")
	assert.ErrorIs(t, err, ErrSymbolNotFound, "matching md5 short-circuits the parse")

	// changed content reparses and restores the row
	rewrite(t, abs, "void fn() {}\nint extra = 1;\n")
	p.BuildFile(abs)
	_, err = p.QuerySymbolDefinition("c:@F@fn#")
	assert.NoError(t, err)
}

func TestIncrementalEdit(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})
	abs := filepath.Join(home, "src", "a.cpp")

	rewrite(t, abs, "void gn() {}\n")
	p.BuildFile(abs)

	_, err := p.QuerySymbolDefinition("c:@F@fn#")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	locs, err := p.QuerySymbolDefinition("c:@F@gn#")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, uint32(6), locs[0].Col)

	symbols, err := p.ListFileSymbols(filepath.Join("src", "a.cpp"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c:@F@gn#"}, symbols)
}

func TestDeleteFile(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void gn() {}\n"}},
	})
	abs := filepath.Join(home, "src", "a.cpp")
	rel := filepath.Join("src", "a.cpp")

	require.NoError(t, os.Remove(abs))
	p.DeleteUnexistFile(abs)

	for _, key := range []string{
		record.FileInfoKey(rel),
		record.FileSymbolsKey(rel),
		record.FileReferencesKey(rel),
		record.SymbolDefinitionKey("c:@F@gn#"),
	} {
		assert.False(t, p.db.Has(key), "key %s must be gone", key)
	}
	assert.Empty(t, p.ListFiles())
}

func TestCrossModuleSymmetry(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "exe", files: map[string]string{"x.cpp": "void h() {}\nvoid fn_a() {}\n"}},
		{name: "lib", files: map[string]string{"y.cpp": "void h() {}\nvoid fn_b() {}\n"}},
	})

	locs, err := p.QuerySymbolDefinition("c:@F@h#")
	require.NoError(t, err)
	assert.Len(t, locs, 2, "one canonical location per module")

	// module-aware hint picks the matching module's entry
	loc, err := p.QuerySymbolDefinitionHint("c:@F@h#", filepath.Join(home, "lib", "y.cpp"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "lib", "y.cpp"), loc.Path)

	// deleting the lib file drops only the lib entry
	require.NoError(t, os.Remove(filepath.Join(home, "lib", "y.cpp")))
	p.DeleteUnexistFile(filepath.Join(home, "lib", "y.cpp"))

	locs, err = p.QuerySymbolDefinition("c:@F@h#")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, filepath.Join(home, "exe", "x.cpp"), locs[0].Path)

	_, err = p.QuerySymbolDefinition("c:@F@fn_b#")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestCrossFileReferences(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "exe", files: map[string]string{"x.cpp": "void caller() { target(); }\n"}},
		{name: "lib", files: map[string]string{"y.cpp": "void target() {}\n"}},
	})

	// the first pass may have parsed the caller before the target's
	// definition was committed; an explicit rebuild resolves it
	p.RebuildFile(filepath.Join("exe", "x.cpp"))

	locs, err := p.QuerySymbolReferences("c:@F@target#", "")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, filepath.Join(home, "exe", "x.cpp"), locs[0].Path)
	assert.Equal(t, uint32(1), locs[0].Line)

	items, err := p.ListFileReferences(filepath.Join("exe", "x.cpp"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c:@F@target#", items[0].USR)
	assert.Equal(t, "lib", items[0].Module)
}

func TestConfigureFailureKeepsState(t *testing.T) {
	p, _ := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})

	filesBefore := p.ListFiles()
	p.deps.ConfigureCommand = failingConfigure(t)

	p.ForceSync()

	assert.Equal(t, filesBefore, p.ListFiles(), "source set survives a failed configure")
	_, err := p.QuerySymbolDefinition("c:@F@fn#")
	assert.NoError(t, err, "persisted rows survive a failed configure")
}

func TestRebuildFileWipesRows(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})
	rel := filepath.Join("src", "a.cpp")

	// plant a stale row; a rebuild must replace the file's rows wholesale
	stale, err := record.EncodeSymbolDefinition(record.SymbolDefinition{
		Locations: []record.Location{{Path: rel, Line: 99, Col: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, p.db.Put(record.SymbolDefinitionKey("c:@F@stale#"), stale))
	fs, err := record.EncodeFileSymbols(record.FileSymbols{USRs: []string{"c:@F@stale#"}})
	require.NoError(t, err)
	require.NoError(t, p.db.Put(record.FileSymbolsKey(rel), fs))

	bumpMtime(t, filepath.Join(home, "src", "a.cpp"))
	p.RebuildFile(rel)

	symbols, err := p.ListFileSymbols(rel)
	require.NoError(t, err)
	assert.Equal(t, []string{"c:@F@fn#"}, symbols)
}

func TestAtMostOneParsePerFile(t *testing.T) {
	home, configure := writeTestTree(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})

	ix, err := parser.NewIndex()
	require.NoError(t, err)
	t.Cleanup(ix.Close)

	qp := &queuePoster{ix: ix}
	deps := Deps{DataDir: t.TempDir(), Poster: qp, ConfigureCommand: configure}
	p, err := CreateFromConfigFile("demo", home, deps)
	require.NoError(t, err)
	t.Cleanup(p.Drop)

	queued := len(qp.worker)
	require.Equal(t, 1, queued, "initial build queues the file once")

	abs := filepath.Join(home, "src", "a.cpp")
	p.BuildFile(abs)
	p.BuildFile(abs)
	assert.Len(t, qp.worker, queued, "in-flight file is never queued twice")

	// completing the parse clears the marker and allows the next dispatch
	for _, task := range qp.worker {
		task(ix)
	}
	for len(qp.main) > 0 {
		task := qp.main[0]
		qp.main = qp.main[1:]
		task()
	}
	assert.Empty(t, p.inParsing)

	p.BuildFile(abs)
	require.Len(t, qp.worker, queued+1, "a completed file may be dispatched again")

	// the unchanged file short-circuits inside the worker and only posts
	// the marker cleanup
	qp.worker[queued](ix)
	require.Len(t, qp.main, 1)
	qp.main[0]()
	assert.Empty(t, p.inParsing)
}

func TestCreateFromDatabase(t *testing.T) {
	home, configure := writeTestTree(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})
	deps := newTestDeps(t, configure)

	p, err := CreateFromConfigFile("demo", home, deps)
	require.NoError(t, err)
	files := p.ListFiles()
	p.Drop()

	reopened, err := CreateFromDatabase("demo", deps)
	require.NoError(t, err)
	t.Cleanup(reopened.Drop)

	assert.Equal(t, home, reopened.HomePath())
	assert.Equal(t, files, reopened.ListFiles())

	locs, err := reopened.QuerySymbolDefinition("c:@F@fn#")
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestCreateFromDatabaseMissing(t *testing.T) {
	deps := Deps{DataDir: t.TempDir()}
	_, err := CreateFromDatabase("never_indexed", deps)
	assert.Error(t, err)
}

func TestInvalidHomes(t *testing.T) {
	deps := Deps{DataDir: t.TempDir()}

	_, err := CreateFromConfigFile("p1", filepath.Join(t.TempDir(), "absent"), deps)
	assert.ErrorIs(t, err, ErrInvalidHome)

	// a home without the configuration file is rejected
	bare := t.TempDir()
	_, err = CreateFromConfigFile("p2", bare, deps)
	assert.ErrorIs(t, err, ErrInvalidHome)

	// a symlinked home is rejected even when it points at a valid tree
	real := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(real, "CMakeLists.txt"), []byte("x"), 0644))
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(real, link))
	_, err = CreateFromConfigFile("p3", link, deps)
	assert.ErrorIs(t, err, ErrInvalidHome)
}

func TestDestroyRemovesDatabase(t *testing.T) {
	home, configure := writeTestTree(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})
	deps := newTestDeps(t, configure)

	p, err := CreateFromConfigFile("demo", home, deps)
	require.NoError(t, err)
	dbPath := p.db.Path()
	require.NoError(t, p.Destroy())

	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))
}
