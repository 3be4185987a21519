// Package project implements the per-project indexer: the state machine
// that owns a project's database, compile-flag cache, watcher set, source
// list, in-flight parse set, and sync timers.
//
// Every method of Project runs on the server's main loop unless noted
// otherwise. Worker-side code is confined to the parse task in sync.go and
// touches nothing but read-only database gets.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/symdb-dev/symdb/internal/config"
	"github.com/symdb-dev/symdb/internal/flagcache"
	"github.com/symdb-dev/symdb/internal/kvstore"
	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/record"
	"github.com/symdb-dev/symdb/internal/watcher"
)

// cmakeFileName is the project configuration file watched for rebuilds.
const cmakeFileName = "CMakeLists.txt"

// dbSuffix names a project's database directory under the data dir.
const dbSuffix = ".ldb"

// ErrInvalidHome is returned when a project home is missing, a symlink, or
// lacks the configuration file.
var ErrInvalidHome = errors.New("project: invalid home")

// Poster schedules closures on the server's loops. The main loop owns all
// project state; workers run exactly one task kind, the parse.
type Poster interface {
	PostToMain(task func())
	PostToWorker(task func(ix *parser.Index))
}

// Deps carries the server-owned collaborators a project needs.
type Deps struct {
	DataDir           string
	SystemIncludeArgs []string
	Poster            Poster
	Hub               *watcher.Hub // nil disables file watching
	Global            *config.Config

	// ConfigureCommand overrides the flag cache's configure argv; tests
	// point it at a stub.
	ConfigureCommand []string
}

// Project is one indexed source tree.
type Project struct {
	name      string
	homePath  string
	buildPath string
	cmakeFile string

	cfg  *config.ProjectConfig // nil when rehydrated from the database
	deps Deps
	log  *slog.Logger

	db    *kvstore.Store
	flags *flagcache.Cache

	srcPaths  map[string]struct{} // absolute source paths
	inParsing map[string]bool     // project-relative paths posted to workers
	modified  []string            // absolute paths awaiting smart sync
	watchers  map[int64]*watcher.Watch

	smartTimer *time.Timer
	forceTimer *time.Timer
	dropped    bool
}

// CreateFromConfig builds a project from its configuration entry. The
// database is reopened when present; a database that fails to open is
// removed and recreated. Persisted state that matches the configured home
// is loaded, otherwise the project rebuilds from scratch.
func CreateFromConfig(pc *config.ProjectConfig, deps Deps) (*Project, error) {
	p, err := newProject(pc.Name, deps)
	if err != nil {
		return nil, err
	}
	p.cfg = pc

	if home, err := p.loadHome(); err == nil && home == pc.HomePath {
		if err := p.setHome(home); err != nil {
			p.db.Close()
			return nil, err
		}
		p.loadProjectInfo()
		p.RebuildProject()
	} else {
		if err := p.ChangeHome(pc.HomePath); err != nil {
			p.db.Close()
			return nil, err
		}
	}

	p.startTimers()
	return p, nil
}

// CreateFromConfigFile builds a fresh project from an explicit home path,
// used by the create-project request.
func CreateFromConfigFile(name, home string, deps Deps) (*Project, error) {
	p, err := newProject(name, deps)
	if err != nil {
		return nil, err
	}
	if err := p.ChangeHome(home); err != nil {
		p.db.Close()
		return nil, err
	}
	p.startTimers()
	return p, nil
}

// CreateFromDatabase rehydrates a project purely from persisted state, used
// when a query names a project absent from the configuration.
func CreateFromDatabase(name string, deps Deps) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project: empty name")
	}

	dbPath := filepath.Join(deps.DataDir, name+dbSuffix)
	db, err := kvstore.Open(dbPath, kvstore.OpenExisting)
	if err != nil {
		return nil, err
	}

	p := &Project{
		name:      name,
		deps:      deps,
		log:       slog.Default().With("project", name),
		db:        db,
		srcPaths:  make(map[string]struct{}),
		inParsing: make(map[string]bool),
		watchers:  make(map[int64]*watcher.Watch),
	}

	home, err := p.loadHome()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("project %s: home not set: %w", name, err)
	}
	if err := p.setHome(home); err != nil {
		db.Close()
		return nil, err
	}
	p.loadProjectInfo()
	p.startTimers()
	return p, nil
}

// newProject opens (or recreates) the database and prepares empty state.
func newProject(name string, deps Deps) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project: empty name")
	}

	dbPath := filepath.Join(deps.DataDir, name+dbSuffix)
	db, err := kvstore.Open(dbPath, kvstore.OpenDefault)
	if err != nil {
		slog.Warn("reopen failed, recreating database", "project", name, "err", err)
		if rmErr := os.RemoveAll(dbPath); rmErr != nil {
			return nil, fmt.Errorf("project %s: %w", name, rmErr)
		}
		db, err = kvstore.Open(dbPath, kvstore.OpenCreate)
		if err != nil {
			return nil, err
		}
	}

	return &Project{
		name:      name,
		deps:      deps,
		log:       slog.Default().With("project", name),
		db:        db,
		srcPaths:  make(map[string]struct{}),
		inParsing: make(map[string]bool),
		watchers:  make(map[int64]*watcher.Watch),
	}, nil
}

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// HomePath returns the project's home directory.
func (p *Project) HomePath() string { return p.homePath }

// ChangeHome validates and switches the project home, persists it, and
// rebuilds. A home equal to the current one is a no-op.
func (p *Project) ChangeHome(newHome string) error {
	if newHome == "" {
		return fmt.Errorf("%w: empty home", ErrInvalidHome)
	}
	abs, err := filepath.Abs(newHome)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHome, err)
	}
	if p.homePath == abs {
		p.log.Info("home not changed")
		return nil
	}
	return p.changeHomeNoCheck(abs)
}

func (p *Project) changeHomeNoCheck(newHome string) error {
	if err := validateHome(newHome); err != nil {
		return err
	}

	if err := p.db.Put(record.HomeKey, []byte(newHome)); err != nil {
		return fmt.Errorf("project %s: persist home: %w", p.name, err)
	}

	// Skip-cache rows are keyed by home-relative path; drop the old home's
	// rows so a same-named file under the new home is parsed again.
	if len(p.srcPaths) > 0 {
		batch := p.db.NewBatch()
		for abs := range p.srcPaths {
			batch.Delete(record.FileInfoKey(p.rel(abs)))
		}
		if err := batch.Write(); err != nil {
			p.log.Error("reset skip cache", "err", err)
		}
	}

	if err := p.setHome(newHome); err != nil {
		return err
	}

	// Reconfiguring may take seconds on the main thread; acceptable, the
	// alternative of posting it to workers complicates ownership.
	p.RebuildProject()
	return nil
}

// setHome installs the home-derived fields without touching the database.
func (p *Project) setHome(home string) error {
	if err := validateHome(home); err != nil {
		return err
	}
	p.homePath = home
	p.cmakeFile = filepath.Join(home, cmakeFileName)

	p.buildPath = filepath.Join(home, "_build")
	if p.cfg != nil {
		p.buildPath = p.cfg.BuildPath
	}

	p.flags = flagcache.New(p.homePath, p.buildPath)
	p.flags.SystemIncludeArgs = p.deps.SystemIncludeArgs
	p.flags.IsExcluded = p.isFileExcluded
	if len(p.deps.ConfigureCommand) > 0 {
		p.flags.ConfigureCommand = p.deps.ConfigureCommand
	}
	return nil
}

// validateHome rejects missing homes, symlinks, and homes without the
// configuration file.
func validateHome(home string) error {
	info, err := os.Lstat(home)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidHome, home, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s is a symlink", ErrInvalidHome, home)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidHome, home)
	}
	if _, err := os.Stat(filepath.Join(home, cmakeFileName)); err != nil {
		return fmt.Errorf("%w: %s has no %s", ErrInvalidHome, home, cmakeFileName)
	}
	return nil
}

// loadHome reads the persisted home path.
func (p *Project) loadHome() (string, error) {
	v, err := p.db.Get(record.HomeKey)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// loadProjectInfo restores the persisted source set.
func (p *Project) loadProjectInfo() {
	v, err := p.db.Get(p.name)
	if err != nil {
		p.log.Warn("project info not persisted")
		return
	}
	pi, err := record.DecodeProjectInfo(v)
	if err != nil {
		p.log.Error("project info corrupt", "err", err)
		return
	}
	for _, rel := range pi.RelPaths {
		p.srcPaths[filepath.Join(p.homePath, rel)] = struct{}{}
	}
	p.log.Debug("project info loaded", "files", len(pi.RelPaths))
}

// isFileExcluded checks the project's exclude patterns, the global ones,
// and the build path.
func (p *Project) isFileExcluded(absPath string) bool {
	if p.buildPath != "" && pathHasPrefix(absPath, p.buildPath) {
		return true
	}
	if p.cfg != nil && p.cfg.IsFileExcluded(absPath) {
		return true
	}
	if p.cfg == nil && p.deps.Global != nil {
		return p.deps.Global.IsFileExcluded(absPath)
	}
	return false
}

// rel converts an absolute path inside the home to a project-relative one.
func (p *Project) rel(absPath string) string {
	r, err := filepath.Rel(p.homePath, absPath)
	if err != nil {
		return absPath
	}
	return r
}

// abs converts a project-relative path to an absolute one.
func (p *Project) abs(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(p.homePath, relPath)
}

// writeSrcPaths appends the persisted snapshot of the source set to a batch.
func (p *Project) writeSrcPaths(batch *kvstore.Batch) error {
	pi := record.ProjectInfo{RelPaths: make([]string, 0, len(p.srcPaths))}
	for abs := range p.srcPaths {
		pi.RelPaths = append(pi.RelPaths, p.rel(abs))
	}
	data, err := record.EncodeProjectInfo(pi)
	if err != nil {
		return err
	}
	batch.Put(p.name, data)
	return nil
}

// Drop stops timers and watches and closes the database. Pending worker
// completions become no-ops.
func (p *Project) Drop() {
	p.dropped = true
	if p.smartTimer != nil {
		p.smartTimer.Stop()
	}
	if p.forceTimer != nil {
		p.forceTimer.Stop()
	}
	for _, w := range p.watchers {
		w.Close()
	}
	p.watchers = make(map[int64]*watcher.Watch)
	if err := p.db.Close(); err != nil {
		p.log.Error("close database", "err", err)
	}
}

// Destroy drops the project and removes its database from disk.
func (p *Project) Destroy() error {
	dbPath := p.db.Path()
	p.Drop()
	return os.RemoveAll(dbPath)
}

// pathHasPrefix reports whether path lies under dir.
func pathHasPrefix(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) &&
		(rel == "." || !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
