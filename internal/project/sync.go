package project

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/symdb-dev/symdb/internal/flagcache"
	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/record"
)

// smartSyncInterval drains the modified queue.
const smartSyncInterval = 30 * time.Second

// forceSyncSchedule lists the local times of day a full reconfigure runs.
var forceSyncSchedule = []time.Duration{
	3*time.Hour + 30*time.Minute,
	8*time.Hour + 30*time.Minute,
	12*time.Hour + 30*time.Minute,
	18*time.Hour + 15*time.Minute,
	23*time.Hour + 30*time.Minute,
}

// NextForceSyncDelay returns how long after now the next scheduled force
// sync fires, wrapping to the next day after the last slot.
func NextForceSyncDelay(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sinceMidnight := now.Sub(midnight)

	for _, slot := range forceSyncSchedule {
		if slot > sinceMidnight {
			return slot - sinceMidnight
		}
	}
	return forceSyncSchedule[0] + 24*time.Hour - sinceMidnight
}

// startTimers arms both sync timers. Callbacks run on the main loop.
func (p *Project) startTimers() {
	p.startSmartSyncTimer()
	p.startForceSyncTimer()
}

func (p *Project) startSmartSyncTimer() {
	if p.smartTimer != nil {
		p.smartTimer.Stop()
	}
	p.smartTimer = time.AfterFunc(smartSyncInterval, func() {
		p.deps.Poster.PostToMain(p.SmartSync)
	})
}

func (p *Project) startForceSyncTimer() {
	if p.forceTimer != nil {
		p.forceTimer.Stop()
	}
	delay := NextForceSyncDelay(time.Now())
	p.forceTimer = time.AfterFunc(delay, func() {
		p.deps.Poster.PostToMain(p.ForceSync)
	})
	p.log.Info("next force sync scheduled", "at", time.Now().Add(delay).Format(time.RFC3339))
}

// SmartSync deduplicates the modified queue and schedules a build for each
// entry. The timer is re-armed afterwards.
func (p *Project) SmartSync() {
	if p.dropped {
		return
	}
	defer p.startSmartSyncTimer()

	sort.Strings(p.modified)
	p.modified = dedupSorted(p.modified)

	if len(p.modified) > 0 {
		p.log.Debug("smart sync", "files", len(p.modified))
	}

	for _, path := range p.modified {
		p.BuildFile(path)
	}
	p.modified = p.modified[:0]
}

// ForceSync performs a full reconfigure and rescan. A failed configure
// leaves the source set and all persisted state untouched. The timer is
// re-armed on completion.
func (p *Project) ForceSync() {
	if p.dropped {
		return
	}
	defer p.startForceSyncTimer()
	p.RebuildProject()
}

// RebuildProject reruns the configure step, rebuilds module tables and
// watches, drops vanished files, and reparses what changed.
func (p *Project) RebuildProject() {
	oldPaths := p.srcPaths
	newPaths := make(map[string]struct{})

	if err := p.rebuildModuleFlags(newPaths); err != nil {
		p.log.Error("configure failed, keeping previous state", "err", err)
		return
	}

	p.srcPaths = newPaths
	p.resetFileWatch()

	for abs := range oldPaths {
		if _, ok := newPaths[abs]; !ok {
			p.DeleteUnexistFile(abs)
		}
	}

	p.Build()
}

// rebuildModuleFlags runs the configure command into a fresh flag cache;
// the live cache is replaced only on success.
func (p *Project) rebuildModuleFlags(paths map[string]struct{}) error {
	fresh := flagcache.New(p.homePath, p.buildPath)
	fresh.SystemIncludeArgs = p.deps.SystemIncludeArgs
	fresh.IsExcluded = p.isFileExcluded
	if len(p.deps.ConfigureCommand) > 0 {
		fresh.ConfigureCommand = p.deps.ConfigureCommand
	}

	if err := fresh.Rebuild(p.cmakeFile, paths); err != nil {
		return err
	}
	p.flags = fresh
	return nil
}

// Build schedules a parse for every non-excluded source file.
func (p *Project) Build() {
	batch := p.db.NewBatch()
	if err := p.writeSrcPaths(batch); err == nil {
		if err := batch.Write(); err != nil {
			p.log.Error("persist source paths", "err", err)
		}
	}

	for abs := range p.srcPaths {
		if p.isFileExcluded(abs) {
			continue
		}
		p.BuildFile(abs)
	}

	p.log.Debug("build scheduled", "files", len(p.srcPaths))
}

// BuildFile posts one file to the worker pool. A file already in flight or
// without a known module is skipped.
func (p *Project) BuildFile(absPath string) {
	rel := p.rel(absPath)
	if p.inParsing[rel] {
		return
	}

	args := p.flags.GetFileCompilerFlags(absPath)
	if args == nil {
		p.log.Debug("module unknown", "file", absPath)
		return
	}

	p.inParsing[rel] = true
	p.deps.Poster.PostToWorker(func(ix *parser.Index) {
		p.parseFile(ix, absPath, rel, args)
	})
}

// parseFile runs on a worker. It may read the database but never writes;
// all mutation is posted back to the main loop.
func (p *Project) parseFile(ix *parser.Index, absPath, rel string, args []string) {
	clear := func() {
		p.deps.Poster.PostToMain(func() { delete(p.inParsing, rel) })
	}

	info, err := os.Stat(absPath)
	if err != nil {
		p.log.Warn("stat failed", "file", absPath, "err", err)
		clear()
		return
	}
	lastMtime := info.ModTime().Unix()

	var stored record.FileInfo
	haveStored := false
	if v, err := p.db.Get(record.FileInfoKey(rel)); err == nil {
		if stored, err = record.DecodeFileInfo(v); err == nil {
			haveStored = true
		}
	}

	if haveStored && stored.LastMtime == lastMtime {
		clear()
		return
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		p.log.Warn("read failed", "file", absPath, "err", err)
		clear()
		return
	}
	sum := md5.Sum(content)

	if haveStored && sum == stored.ContentMD5 {
		clear()
		return
	}

	tu, err := ix.Parse(absPath, args, &dbResolver{p: p})
	if err != nil {
		p.log.Warn("parse failed", "file", absPath, "err", err)
		clear()
		return
	}

	fi := record.FileInfo{LastMtime: lastMtime, ContentMD5: sum}
	p.deps.Poster.PostToMain(func() {
		p.WriteCompiledFile(tu, rel, fi)
	})
}

// dbResolver resolves reference targets against persisted definitions.
// Used from worker goroutines; the store's reads are safe there.
type dbResolver struct {
	p *Project
}

func (r *dbResolver) ResolveDefinition(usr string) string {
	v, err := r.p.db.Get(record.SymbolDefinitionKey(usr))
	if err != nil {
		return ""
	}
	sd, err := record.DecodeSymbolDefinition(v)
	if err != nil || len(sd.Locations) == 0 {
		return ""
	}
	return sd.Locations[0].Path
}

// RebuildFiles deduplicates and builds an explicit path list.
func (p *Project) RebuildFiles(paths []string) {
	sort.Strings(paths)
	paths = dedupSorted(paths)
	for _, path := range paths {
		p.BuildFile(p.abs(path))
	}
}

// RebuildFile wipes one file's persisted rows and reparses it.
func (p *Project) RebuildFile(relPath string) {
	relPath = filepath.Clean(relPath)
	abs := p.abs(relPath)

	p.wipeFileRows(relPath)
	p.srcPaths[abs] = struct{}{}
	p.BuildFile(abs)
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || s[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}
