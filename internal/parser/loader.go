package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// DynamicLoader loads tree-sitter grammars from shared libraries (.so on
// Linux, .dylib on macOS) using purego. It lets a deployment substitute a
// newer C/C++ grammar without rebuilding the server.
type DynamicLoader struct {
	searchPaths []string
	mu          sync.Mutex
	loaded      map[string]*tree_sitter.Language
}

// NewDynamicLoader creates a loader that searches the given paths in order;
// first match wins.
func NewDynamicLoader(searchPaths []string) *DynamicLoader {
	return &DynamicLoader{
		searchPaths: searchPaths,
		loaded:      make(map[string]*tree_sitter.Language),
	}
}

// LibExtension returns the shared library extension for this platform.
func LibExtension() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// GrammarPath returns the path of the shared library that would serve lang,
// or "" when none of the search paths has one.
func (dl *DynamicLoader) GrammarPath(lang string) string {
	for _, dir := range dl.searchPaths {
		for _, base := range []string{
			"libtree-sitter-" + lang + LibExtension(),
			lang + LibExtension(),
		} {
			p := filepath.Join(dir, base)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// LoadGrammar loads a grammar shared library for lang ("c" or "cpp").
// Results are cached.
func (dl *DynamicLoader) LoadGrammar(lang string) (*tree_sitter.Language, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if l, ok := dl.loaded[lang]; ok {
		return l, nil
	}

	path := dl.GrammarPath(lang)
	if path == "" {
		return nil, fmt.Errorf("parser: no grammar library for %s", lang)
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("parser: dlopen %s: %w", path, err)
	}

	var langFunc func() uintptr
	purego.RegisterLibFunc(&langFunc, handle, "tree_sitter_"+lang)

	ptr := langFunc()
	if ptr == 0 {
		return nil, fmt.Errorf("parser: tree_sitter_%s returned nil", lang)
	}

	l := tree_sitter.NewLanguage(unsafe.Pointer(ptr))
	dl.loaded[lang] = l
	return l, nil
}
