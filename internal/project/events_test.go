package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symdb-dev/symdb/internal/watcher"
)

// newWatchedProject builds a project wired to a live hub. Events are
// injected synthetically; the hub only provides watch registration.
func newWatchedProject(t *testing.T) (*Project, string, *watcher.Hub) {
	t.Helper()
	home, configure := writeTestTree(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})

	hub, err := watcher.NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { hub.Close() })

	deps := newTestDeps(t, configure)
	deps.Hub = hub
	p, err := CreateFromConfigFile("demo", home, deps)
	require.NoError(t, err)
	t.Cleanup(p.Drop)
	return p, home, hub
}

func TestWatchesRegisteredForModuleDirs(t *testing.T) {
	p, home, _ := newWatchedProject(t)

	require.NotEmpty(t, p.watchers)
	var dirs []string
	for _, w := range p.watchers {
		dirs = append(dirs, w.Dir())
		assert.True(t, p.IsWatchIDInList(w.ID()))
	}
	assert.Contains(t, dirs, filepath.Join(home, "src"))
	assert.False(t, p.IsWatchIDInList(-1))
}

func TestEntryCreateFileQueues(t *testing.T) {
	p, home, _ := newWatchedProject(t)
	srcDir := filepath.Join(home, "src")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.cpp"),
		[]byte("void added() {}\n"), 0644))

	p.HandleWatchEvent(watcher.Event{
		Dir: srcDir, Name: "b.cpp", Kind: watcher.EntryCreate,
	})

	assert.Contains(t, p.srcPaths, filepath.Join(srcDir, "b.cpp"))
	assert.Equal(t, []string{filepath.Join(srcDir, "b.cpp")}, p.modified)

	p.SmartSync()
	_, err := p.QuerySymbolDefinition("c:@F@added#")
	assert.NoError(t, err)
}

func TestEntryCreateDirInheritsModule(t *testing.T) {
	p, home, _ := newWatchedProject(t)
	srcDir := filepath.Join(home, "src")
	sub := filepath.Join(srcDir, "detail")
	require.NoError(t, os.MkdirAll(sub, 0755))

	p.HandleWatchEvent(watcher.Event{
		Dir: srcDir, Name: "detail", Kind: watcher.EntryCreate, IsDir: true,
	})

	assert.Equal(t, "src", p.flags.GetModuleName(sub),
		"new sub-directory inherits the parent's module")
}

func TestModifyQueuesSourceFile(t *testing.T) {
	p, home, _ := newWatchedProject(t)
	srcDir := filepath.Join(home, "src")

	p.HandleWatchEvent(watcher.Event{
		Dir: srcDir, Name: "a.cpp", Kind: watcher.EntryModify,
	})
	assert.Len(t, p.modified, 1)

	// non-source entries are ignored
	p.HandleWatchEvent(watcher.Event{
		Dir: srcDir, Name: "notes.txt", Kind: watcher.EntryModify,
	})
	assert.Len(t, p.modified, 1)
}

func TestEntryDeleteFile(t *testing.T) {
	p, home, _ := newWatchedProject(t)
	abs := filepath.Join(home, "src", "a.cpp")

	require.NoError(t, os.Remove(abs))
	p.HandleWatchEvent(watcher.Event{
		Dir: filepath.Join(home, "src"), Name: "a.cpp", Kind: watcher.EntryDelete,
	})

	assert.Empty(t, p.ListFiles())
	_, err := p.QuerySymbolDefinition("c:@F@fn#")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestSelfDeleteDropsWatcher(t *testing.T) {
	p, home, _ := newWatchedProject(t)
	srcDir := filepath.Join(home, "src")

	var id int64 = -1
	for wid, w := range p.watchers {
		if w.Dir() == srcDir {
			id = wid
		}
	}
	require.NotEqual(t, int64(-1), id)

	p.HandleWatchEvent(watcher.Event{
		WatchID: id, Dir: srcDir, Kind: watcher.SelfDelete, IsDir: true,
	})

	assert.False(t, p.IsWatchIDInList(id))
	assert.Equal(t, "", p.flags.GetModuleName(srcDir))
}
