// Package flagcache maps a project's source directories to modules and each
// module to the pruned compiler argument vector libclang-style parsers can
// consume. The cache is rebuilt by running the project's configure command
// and reading the exported compile_commands.json manifest.
package flagcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrConfigureFailed is returned when the configure command exits non-zero.
var ErrConfigureFailed = errors.New("flagcache: configure failed")

// Placeholders recognised in ConfigureCommand.
const (
	SourceDirVar = "{SOURCE_DIR}"
	BuildDirVar  = "{BUILD_DIR}"
)

// defaultConfigureCommand exports compile commands with cmake.
var defaultConfigureCommand = []string{
	"cmake", "-DCMAKE_EXPORT_COMPILE_COMMANDS=1", "-S", SourceDirVar, "-B", BuildDirVar,
}

// compileEntry is one record of compile_commands.json.
type compileEntry struct {
	File      string `json:"file"`
	Directory string `json:"directory"`
	Command   string `json:"command"`
}

// Cache owns the module tables for one project. It is mutated only on the
// project's main thread; workers never touch it.
type Cache struct {
	homePath  string
	buildPath string

	// ConfigureCommand is the argv template run by Rebuild. Tests point it
	// at a stub that writes a canned manifest.
	ConfigureCommand []string

	// SystemIncludeArgs is appended to every pruned argument vector.
	SystemIncludeArgs []string

	// IsExcluded filters manifest entries; nil means nothing is excluded.
	IsExcluded func(absPath string) bool

	relDirModule map[string]string   // home-relative dir -> module name
	moduleFlags  map[string][]string // module name -> pruned args
}

// New creates an empty cache for a project rooted at homePath whose build
// artifacts live under buildPath.
func New(homePath, buildPath string) *Cache {
	return &Cache{
		homePath:         homePath,
		buildPath:        buildPath,
		ConfigureCommand: defaultConfigureCommand,
		relDirModule:     make(map[string]string),
		moduleFlags:      make(map[string][]string),
	}
}

// HomePath returns the project home the cache resolves against.
func (c *Cache) HomePath() string {
	return c.homePath
}

// Rebuild runs the configure command for cmakeFile, reads the exported
// manifest, and rebuilds the module tables from scratch. Every accepted
// source file is added to paths (absolute).
func (c *Cache) Rebuild(cmakeFile string, paths map[string]struct{}) error {
	if _, err := os.Stat(cmakeFile); err != nil {
		return fmt.Errorf("flagcache: %s: %w", cmakeFile, err)
	}

	if err := os.MkdirAll(c.buildPath, 0755); err != nil {
		return fmt.Errorf("flagcache: create build dir: %w", err)
	}

	srcDir := filepath.Dir(cmakeFile)
	argv := make([]string, len(c.ConfigureCommand))
	for i, a := range c.ConfigureCommand {
		a = strings.ReplaceAll(a, SourceDirVar, srcDir)
		a = strings.ReplaceAll(a, BuildDirVar, c.buildPath)
		argv[i] = a
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = srcDir
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Error("configure command failed", "cmd", argv[0], "err", err,
			"output", firstLine(out))
		return ErrConfigureFailed
	}

	c.relDirModule = make(map[string]string)
	c.moduleFlags = make(map[string][]string)

	return c.loadManifest(paths)
}

// loadManifest parses compile_commands.json under the build path.
func (c *Cache) loadManifest(paths map[string]struct{}) error {
	manifest := filepath.Join(c.buildPath, "compile_commands.json")
	data, err := os.ReadFile(manifest)
	if err != nil {
		return fmt.Errorf("flagcache: %w", err)
	}

	var entries []compileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("flagcache: parse %s: %w", manifest, err)
	}

	for _, e := range entries {
		c.addEntry(e, paths)
	}
	return nil
}

// addEntry registers one manifest record.
func (c *Cache) addEntry(e compileEntry, paths map[string]struct{}) {
	absFile := e.File
	if !filepath.IsAbs(absFile) {
		absFile = filepath.Join(e.Directory, absFile)
	}

	if c.IsExcluded != nil && c.IsExcluded(absFile) {
		return
	}
	// Files generated out of source live under the build path.
	if pathHasPrefix(absFile, c.buildPath) {
		return
	}

	paths[absFile] = struct{}{}

	moduleName := mustRel(c.buildPath, e.Directory)
	relDir := mustRel(c.homePath, filepath.Dir(absFile))
	c.relDirModule[relDir] = moduleName

	if _, ok := c.moduleFlags[moduleName]; ok {
		return
	}

	// The module's own root directory also maps to it, so TryRemoveDir can
	// recognise a module-root removal.
	c.relDirModule[moduleName] = moduleName

	flags := PruneCompilerFlags(strings.Fields(e.Command), absFile)
	flags = append(flags, c.SystemIncludeArgs...)
	c.moduleFlags[moduleName] = flags
}

// GetModuleCompilerFlags returns the pruned argument vector for a module,
// or nil when the module is unknown.
func (c *Cache) GetModuleCompilerFlags(moduleName string) []string {
	return c.moduleFlags[moduleName]
}

// GetFileCompilerFlags returns the argument vector for the module that owns
// the file, or nil when the owning module is unknown.
func (c *Cache) GetFileCompilerFlags(absPath string) []string {
	module := c.GetModuleName(absPath)
	if module == "" {
		return nil
	}
	return c.moduleFlags[module]
}

// GetModuleName returns the module owning a path's directory. Files resolve
// through their parent directory; directories resolve directly. Relative
// paths are interpreted against the project home.
func (c *Cache) GetModuleName(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.homePath, path)
	}

	var relDir string
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		relDir = mustRel(c.homePath, path)
	} else {
		relDir = mustRel(c.homePath, filepath.Dir(path))
	}
	return c.relDirModule[relDir]
}

// AddDirToModule maps a newly created sub-directory to a module.
func (c *Cache) AddDirToModule(absPath, moduleName string) {
	relDir := mustRel(c.homePath, absPath)
	c.relDirModule[relDir] = moduleName
}

// TryRemoveDir removes a directory's module mapping. Removing a module's
// root directory purges the whole module: every other directory mapped to it
// and its flag vector. Returns false when the directory was not mapped.
func (c *Cache) TryRemoveDir(absPath string) bool {
	relDir := mustRel(c.homePath, absPath)
	moduleName, ok := c.relDirModule[relDir]
	if !ok {
		slog.Warn("directory module not found", "path", absPath)
		return false
	}

	delete(c.relDirModule, relDir)

	if relDir != moduleName {
		return true
	}

	for dir, mod := range c.relDirModule {
		if mod == moduleName {
			delete(c.relDirModule, dir)
		}
	}
	delete(c.moduleFlags, moduleName)
	return true
}

// ModuleCount returns the number of known modules.
func (c *Cache) ModuleCount() int {
	return len(c.moduleFlags)
}

// pathHasPrefix reports whether path lies under dir.
func pathHasPrefix(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// mustRel is filepath.Rel that falls back to the target on error.
func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
