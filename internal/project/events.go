package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/watcher"
)

// watchEnabled reports whether this project subscribes to file events.
func (p *Project) watchEnabled() bool {
	if p.deps.Hub == nil {
		return false
	}
	if p.cfg != nil {
		return p.cfg.EnableWatch
	}
	return true
}

// resetFileWatch reconciles the watcher set against the directories that
// currently belong to a known module. Watches are updated by set
// difference so surviving directories keep their subscription.
func (p *Project) resetFileWatch() {
	if !p.watchEnabled() {
		return
	}

	wanted := map[string]bool{}
	filepath.WalkDir(p.homePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if pathHasPrefix(path, p.buildPath) {
			return filepath.SkipDir
		}
		if p.flags.GetModuleName(path) == "" {
			return nil
		}
		wanted[path] = true
		return nil
	})

	for id, w := range p.watchers {
		if wanted[w.Dir()] {
			delete(wanted, w.Dir())
			continue
		}
		w.Close()
		delete(p.watchers, id)
	}

	for dir := range wanted {
		w, err := p.deps.Hub.NewWatch(dir)
		if err != nil {
			// indexing proceeds with fewer watches
			p.log.Warn("watch failed", "dir", dir, "err", err)
			continue
		}
		p.watchers[w.ID()] = w
		p.log.Debug("watching", "dir", dir)
	}
}

// IsWatchIDInList reports whether the project owns a watch id; the server
// demultiplexes events with it.
func (p *Project) IsWatchIDInList(id int64) bool {
	_, ok := p.watchers[id]
	return ok
}

// HandleWatchEvent routes one classified watch event. Runs on the main loop.
func (p *Project) HandleWatchEvent(ev watcher.Event) {
	switch ev.Kind {
	case watcher.EntryCreate:
		p.handleEntryCreate(ev)
	case watcher.EntryModify:
		p.handleFileModified(ev)
	case watcher.EntryDelete:
		p.handleEntryDeleted(ev)
	case watcher.SelfDelete:
		p.handleWatchedDirDeleted(ev)
	}
}

// handleEntryCreate registers new sub-directories with their parent's
// module and queues new source files.
func (p *Project) handleEntryCreate(ev watcher.Event) {
	abs := filepath.Join(ev.Dir, ev.Name)

	if ev.IsDir {
		module := p.flags.GetModuleName(ev.Dir)
		if module == "" {
			return
		}
		p.flags.AddDirToModule(abs, module)
		if p.watchEnabled() {
			if w, err := p.deps.Hub.NewWatch(abs); err == nil {
				p.watchers[w.ID()] = w
			} else {
				p.log.Warn("watch failed", "dir", abs, "err", err)
			}
		}
		return
	}

	if !parser.IsSourceExtension(filepath.Ext(ev.Name)) {
		return
	}
	if p.isFileExcluded(abs) {
		return
	}
	p.srcPaths[abs] = struct{}{}
	p.modified = append(p.modified, abs)
}

// handleFileModified queues edits; a touched configuration file forces a
// full resync.
func (p *Project) handleFileModified(ev watcher.Event) {
	abs := filepath.Join(ev.Dir, ev.Name)

	if abs == p.cmakeFile {
		p.ForceSync()
		return
	}
	if !parser.IsSourceExtension(filepath.Ext(ev.Name)) {
		return
	}
	if p.isFileExcluded(abs) {
		return
	}
	p.modified = append(p.modified, abs)
}

// handleEntryDeleted drops file contributions or an entire sub-tree's
// module mapping.
func (p *Project) handleEntryDeleted(ev watcher.Event) {
	abs := filepath.Join(ev.Dir, ev.Name)

	if !ev.IsDir {
		if parser.IsSourceExtension(filepath.Ext(ev.Name)) {
			p.DeleteUnexistFile(abs)
		}
		return
	}

	p.flags.TryRemoveDir(abs)
	prefix := abs + string(filepath.Separator)
	for id, w := range p.watchers {
		if w.Dir() == abs || strings.HasPrefix(w.Dir(), prefix) {
			w.Close()
			delete(p.watchers, id)
		}
	}
}

// handleWatchedDirDeleted reacts to the watched directory itself vanishing.
func (p *Project) handleWatchedDirDeleted(ev watcher.Event) {
	p.flags.TryRemoveDir(ev.Dir)
	if w, ok := p.watchers[ev.WatchID]; ok {
		w.Close()
		delete(p.watchers, ev.WatchID)
	}
}
