package server

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/symdb-dev/symdb/internal/config"
	"github.com/symdb-dev/symdb/internal/flagcache"
	"github.com/symdb-dev/symdb/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// bbolt and fsnotify may briefly outlive Close on slow machines
		goleak.IgnoreTopFunction("time.Sleep"),
	)
}

// fakeCmake returns a configure command that scans the source tree and
// emits a compile_commands.json grouping each file's parent directory into
// a module.
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

// writeHome lays out a minimal indexable project: one module, one file.
func writeHome(t *testing.T, source string) (home string, configure []string) {
	t.Helper()
	home = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "CMakeLists.txt"),
		[]byte("project(demo)\n"), 0644))
	srcDir := filepath.Join(home, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.cpp"),
		[]byte(source), 0644))

	return home, fakeCmake(t)
}

// startServer runs a server on a per-test socket and waits until it
// answers.
func startServer(t *testing.T, configure []string) (*Server, *protocol.Client) {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		LogDir:     filepath.Join(base, "log"),
		DataDir:    filepath.Join(base, "data"),
		ListenPath: filepath.Join(base, "symdb.sock"),
	}
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))

	srv := New(cfg)
	srv.ConfigureCommand = configure
	go srv.Run()
	t.Cleanup(srv.Stop)

	client := protocol.NewClient(cfg.ListenPath)
	require.Eventually(t, client.Ping, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { client.Close() })
	return srv, client
}

// eventuallyDefined polls until a USR resolves or the deadline passes.
func eventuallyDefined(t *testing.T, client *protocol.Client, proj, usr string) *protocol.GetSymbolDefinitionRsp {
	t.Helper()
	var last *protocol.GetSymbolDefinitionRsp
	require.Eventually(t, func() bool {
		rsp, err := client.GetSymbolDefinition(proj, usr, "")
		if err != nil {
			return false
		}
		last = rsp
		return rsp.Error == ""
	}, 10*time.Second, 50*time.Millisecond, "usr %s", usr)
	return last
}

func TestCreateAndQueryProject(t *testing.T) {
	home, configure := writeHome(t, "void fn() {}\n")
	_, client := startServer(t, configure)

	rsp, err := client.CreateProject("demo", home)
	require.NoError(t, err)
	require.Empty(t, rsp.Error)

	def := eventuallyDefined(t, client, "demo", "c:@F@fn#")
	require.Len(t, def.Locations, 1)
	assert.Equal(t, filepath.Join(home, "src", "a.cpp"), def.Locations[0].Path)
	assert.Equal(t, uint32(1), def.Locations[0].Line)
	assert.Equal(t, uint32(6), def.Locations[0].Col)

	files, err := client.ListProjectFiles("demo")
	require.NoError(t, err)
	require.Empty(t, files.Error)
	assert.Equal(t, []string{filepath.Join("src", "a.cpp")}, files.Files)

	symbols, err := client.ListFileSymbols("demo", filepath.Join("src", "a.cpp"))
	require.NoError(t, err)
	require.Empty(t, symbols.Error)
	assert.Equal(t, []string{"c:@F@fn#"}, symbols.Symbols)

	list, err := client.ListProjects()
	require.NoError(t, err)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, "demo", list.Projects[0].Name)
	assert.Equal(t, home, list.Projects[0].HomeDir)
}

func TestErrorStrings(t *testing.T) {
	_, configure := writeHome(t, "void fn() {}\n")
	_, client := startServer(t, configure)

	rsp, err := client.CreateProject("bad name", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrInvalidProjName, rsp.Error)

	createRsp, err := client.CreateProject("ghost", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrProjHomeNotExist, createRsp.Error)

	defRsp, err := client.GetSymbolDefinition("never_created", "c:@F@x#", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrProjectNotFound, defRsp.Error)

	home, configure2 := writeHome(t, "void fn() {}\n")
	_, client2 := startServer(t, configure2)
	rsp2, err := client2.CreateProject("demo", home)
	require.NoError(t, err)
	require.Empty(t, rsp2.Error)

	missing, err := client2.GetSymbolDefinition("demo", "c:@F@nothing#", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrSymbolNotFound, missing.Error)
}

func TestSocketAlreadyServed(t *testing.T) {
	_, configure := writeHome(t, "void fn() {}\n")
	srv, _ := startServer(t, configure)

	second := New(srv.cfg)
	assert.Error(t, second.Run(), "a served socket refuses a second daemon")
}

func TestDeleteProject(t *testing.T) {
	home, configure := writeHome(t, "void fn() {}\n")
	_, client := startServer(t, configure)

	rsp, err := client.CreateProject("demo", home)
	require.NoError(t, err)
	require.Empty(t, rsp.Error)
	eventuallyDefined(t, client, "demo", "c:@F@fn#")

	delRsp, err := client.DeleteProject("demo")
	require.NoError(t, err)
	assert.Empty(t, delRsp.Error)

	defRsp, err := client.GetSymbolDefinition("demo", "c:@F@fn#", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrProjectNotFound, defRsp.Error)

	delRsp, err = client.DeleteProject("demo")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrStrProjectNotFound, delRsp.Error)
}

func TestUpdateProjectMovesHome(t *testing.T) {
	home, configure := writeHome(t, "void fn() {}\n")
	_, client := startServer(t, configure)

	rsp, err := client.CreateProject("demo", home)
	require.NoError(t, err)
	require.Empty(t, rsp.Error)
	eventuallyDefined(t, client, "demo", "c:@F@fn#")

	// the new home carries a different symbol
	newHome, _ := writeHome(t, "void moved() {}\n")
	upd, err := client.UpdateProject("demo", newHome)
	require.NoError(t, err)
	require.Empty(t, upd.Error)

	eventuallyDefined(t, client, "demo", "c:@F@moved#")
}

func TestConcurrentRebuilds(t *testing.T) {
	// one module, many files, every rebuild issued back to back; the final
	// state must match a sequential run
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "CMakeLists.txt"),
		[]byte("project(demo)\n"), 0644))
	srcDir := filepath.Join(home, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0755))

	const fileCount = 40
	for i := 0; i < fileCount; i++ {
		abs := filepath.Join(srcDir, fmt.Sprintf("f%02d.cpp", i))
		src := fmt.Sprintf("void fn_%02d() {}\n", i)
		require.NoError(t, os.WriteFile(abs, []byte(src), 0644))
	}

	_, client := startServer(t, fakeCmake(t))
	rsp, err := client.CreateProject("demo", home)
	require.NoError(t, err)
	require.Empty(t, rsp.Error)

	for i := 0; i < fileCount; i++ {
		rel := filepath.Join("src", fmt.Sprintf("f%02d.cpp", i))
		rb, err := client.RebuildFile("demo", rel)
		require.NoError(t, err)
		require.Empty(t, rb.Error)
	}

	for i := 0; i < fileCount; i++ {
		usr := fmt.Sprintf("c:@F@fn_%02d#", i)
		def := eventuallyDefined(t, client, "demo", usr)
		require.Len(t, def.Locations, 1)
		assert.Equal(t, uint32(1), def.Locations[0].Line)
	}
}
