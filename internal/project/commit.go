package project

import (
	"errors"
	"os"
	"sort"

	"github.com/symdb-dev/symdb/internal/kvstore"
	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/record"
)

// refEntry keys a file's references by target symbol and defining module.
type refEntry struct {
	usr    string
	module string
}

// WriteCompiledFile commits a worker's parse result. Runs on the main loop.
// The in-flight marker clears unconditionally; the batch is discarded whole
// if any step fails.
func (p *Project) WriteCompiledFile(tu *parser.TranslationUnit, rel string, fi record.FileInfo) {
	defer delete(p.inParsing, rel)

	if p.dropped {
		return
	}

	batch := p.db.NewBatch()
	batch.Put(record.FileInfoKey(rel), record.EncodeFileInfo(fi))

	if err := p.writeFileDefinitions(tu, rel, batch); err != nil {
		p.log.Error("write definitions", "file", rel, "err", err)
		batch.Discard()
		return
	}
	if err := p.writeFileReferences(tu, rel, batch); err != nil {
		p.log.Error("write references", "file", rel, "err", err)
		batch.Discard()
		return
	}

	if err := batch.Write(); err != nil {
		p.log.Error("commit failed", "file", rel, "err", err)
		return
	}

	p.log.Debug("file committed", "file", rel,
		"defs", len(tu.DefinedSymbols), "refs", len(tu.ReferencedSymbols))
}

// writeFileDefinitions reconciles the new parse against the stored per-file
// USR set and the aggregated per-symbol records.
func (p *Project) writeFileDefinitions(tu *parser.TranslationUnit, rel string, batch *kvstore.Batch) error {
	moduleName := p.flags.GetModuleName(rel)

	old := p.loadFileSymbolSet(rel)

	newLocs := make(map[string]record.Location, len(tu.DefinedSymbols))
	for usr, loc := range tu.DefinedSymbols {
		newLocs[usr] = record.Location{Path: rel, Line: loc.Line, Col: loc.Col}
	}

	setChanged := false

	// dropped USRs lose only this module's entry; the key goes away when
	// no other module still contributes
	for usr := range old {
		if _, ok := newLocs[usr]; ok {
			continue
		}
		setChanged = true
		if err := p.removeSymbolModuleEntry(usr, moduleName, batch); err != nil {
			return err
		}
	}

	for usr, loc := range newLocs {
		if _, existed := old[usr]; existed {
			cur := p.symbolLocationForModule(usr, moduleName)
			if cur == loc {
				continue
			}
		} else {
			setChanged = true
		}
		if err := p.putSymbolLocation(usr, moduleName, loc, batch); err != nil {
			return err
		}
	}

	if setChanged {
		if len(newLocs) == 0 {
			batch.Delete(record.FileSymbolsKey(rel))
		} else {
			usrs := make([]string, 0, len(newLocs))
			for usr := range newLocs {
				usrs = append(usrs, usr)
			}
			sort.Strings(usrs)
			data, err := record.EncodeFileSymbols(record.FileSymbols{USRs: usrs})
			if err != nil {
				return err
			}
			batch.Put(record.FileSymbolsKey(rel), data)
		}
	}

	return nil
}

// writeFileReferences reconciles the new reference map against the stored
// per-file list and the aggregated per-symbol reference records.
func (p *Project) writeFileReferences(tu *parser.TranslationUnit, rel string, batch *kvstore.Batch) error {
	newRefs := make(map[refEntry][]record.LineCol)
	for key, locs := range tu.ReferencedSymbols {
		if key.Path == "" {
			continue // target outside the project (std/boost)
		}
		module := p.flags.GetModuleName(key.Path)
		if module == "" {
			continue
		}
		entry := refEntry{usr: key.USR, module: module}
		newRefs[entry] = append(newRefs[entry], locs...)
	}
	for entry := range newRefs {
		sortLineCols(newRefs[entry])
	}

	oldRefs := make(map[refEntry][]record.LineCol)
	if v, err := p.db.Get(record.FileReferencesKey(rel)); err == nil {
		fr, err := record.DecodeFileReferences(v)
		if err != nil {
			return err
		}
		for _, item := range fr.Items {
			oldRefs[refEntry{usr: item.USR, module: item.Module}] = item.Locs
		}
	}

	aggChanged := false

	for entry := range oldRefs {
		if _, ok := newRefs[entry]; ok {
			continue
		}
		aggChanged = true
		if err := p.removeReferenceFile(entry, rel, batch); err != nil {
			return err
		}
	}

	for entry, locs := range newRefs {
		if old, ok := oldRefs[entry]; ok && lineColsEqual(old, locs) {
			continue
		}
		aggChanged = true
		if err := p.putReferenceFile(entry, rel, locs, batch); err != nil {
			return err
		}
	}

	if aggChanged {
		if len(newRefs) == 0 {
			batch.Delete(record.FileReferencesKey(rel))
		} else {
			data, err := encodeFileReferences(newRefs)
			if err != nil {
				return err
			}
			batch.Put(record.FileReferencesKey(rel), data)
		}
	}

	return nil
}

// loadFileSymbolSet returns the stored defined-USR set for a file.
func (p *Project) loadFileSymbolSet(rel string) map[string]bool {
	set := make(map[string]bool)
	v, err := p.db.Get(record.FileSymbolsKey(rel))
	if err != nil {
		return set
	}
	fs, err := record.DecodeFileSymbols(v)
	if err != nil {
		p.log.Error("file symbols corrupt", "file", rel, "err", err)
		return set
	}
	for _, usr := range fs.USRs {
		set[usr] = true
	}
	return set
}

// loadSymbolDefinition reads symdef:<usr>, returning an empty record when
// absent.
func (p *Project) loadSymbolDefinition(usr string) (record.SymbolDefinition, error) {
	v, err := p.db.Get(record.SymbolDefinitionKey(usr))
	if errors.Is(err, kvstore.ErrNotFound) {
		return record.SymbolDefinition{}, nil
	}
	if err != nil {
		return record.SymbolDefinition{}, err
	}
	return record.DecodeSymbolDefinition(v)
}

// symbolLocationForModule returns the stored location of usr inside module,
// or the zero Location.
func (p *Project) symbolLocationForModule(usr, module string) record.Location {
	sd, err := p.loadSymbolDefinition(usr)
	if err != nil {
		return record.Location{}
	}
	for _, loc := range sd.Locations {
		if p.flags.GetModuleName(loc.Path) == module {
			return loc
		}
	}
	return record.Location{}
}

// putSymbolLocation upserts usr's entry for module: at most one canonical
// location per module, other modules' entries untouched.
func (p *Project) putSymbolLocation(usr, module string, loc record.Location, batch *kvstore.Batch) error {
	sd, err := p.loadSymbolDefinition(usr)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range sd.Locations {
		if p.flags.GetModuleName(existing.Path) == module {
			sd.Locations[i] = loc
			replaced = true
			break
		}
	}
	if !replaced {
		sd.Locations = append(sd.Locations, loc)
	}

	data, err := record.EncodeSymbolDefinition(sd)
	if err != nil {
		return err
	}
	batch.Put(record.SymbolDefinitionKey(usr), data)
	return nil
}

// removeSymbolModuleEntry drops usr's entry for module, deleting the key
// when the last location goes away.
func (p *Project) removeSymbolModuleEntry(usr, module string, batch *kvstore.Batch) error {
	sd, err := p.loadSymbolDefinition(usr)
	if err != nil {
		return err
	}

	kept := sd.Locations[:0]
	for _, loc := range sd.Locations {
		if p.flags.GetModuleName(loc.Path) != module {
			kept = append(kept, loc)
		}
	}
	sd.Locations = kept

	if len(sd.Locations) == 0 {
		batch.Delete(record.SymbolDefinitionKey(usr))
		return nil
	}
	data, err := record.EncodeSymbolDefinition(sd)
	if err != nil {
		return err
	}
	batch.Put(record.SymbolDefinitionKey(usr), data)
	return nil
}

// loadSymbolReferences reads symref:<usr>, returning an empty record when
// absent.
func (p *Project) loadSymbolReferences(usr string) (record.SymbolReferences, error) {
	v, err := p.db.Get(record.SymbolReferencesKey(usr))
	if errors.Is(err, kvstore.ErrNotFound) {
		return record.SymbolReferences{}, nil
	}
	if err != nil {
		return record.SymbolReferences{}, err
	}
	return record.DecodeSymbolReferences(v)
}

// putReferenceFile sets the reference sites of (usr, module, file).
func (p *Project) putReferenceFile(entry refEntry, rel string, locs []record.LineCol, batch *kvstore.Batch) error {
	sr, err := p.loadSymbolReferences(entry.usr)
	if err != nil {
		return err
	}

	mi := -1
	for i := range sr.Modules {
		if sr.Modules[i].Module == entry.module {
			mi = i
			break
		}
	}
	if mi < 0 {
		sr.Modules = append(sr.Modules, record.ModuleRefs{Module: entry.module})
		mi = len(sr.Modules) - 1
	}

	fi := -1
	for i := range sr.Modules[mi].Files {
		if sr.Modules[mi].Files[i].Path == rel {
			fi = i
			break
		}
	}
	if fi < 0 {
		sr.Modules[mi].Files = append(sr.Modules[mi].Files, record.FileLocs{Path: rel})
		fi = len(sr.Modules[mi].Files) - 1
	}
	sr.Modules[mi].Files[fi].Locs = locs

	sortSymbolReferences(&sr)
	data, err := record.EncodeSymbolReferences(sr)
	if err != nil {
		return err
	}
	batch.Put(record.SymbolReferencesKey(entry.usr), data)
	return nil
}

// removeReferenceFile erases (usr, module, file); empty modules prune and
// an empty record deletes the key.
func (p *Project) removeReferenceFile(entry refEntry, rel string, batch *kvstore.Batch) error {
	sr, err := p.loadSymbolReferences(entry.usr)
	if err != nil {
		return err
	}

	for i := range sr.Modules {
		if sr.Modules[i].Module != entry.module {
			continue
		}
		files := sr.Modules[i].Files[:0]
		for _, f := range sr.Modules[i].Files {
			if f.Path != rel {
				files = append(files, f)
			}
		}
		sr.Modules[i].Files = files
		break
	}

	kept := sr.Modules[:0]
	for _, m := range sr.Modules {
		if len(m.Files) > 0 {
			kept = append(kept, m)
		}
	}
	sr.Modules = kept

	if len(sr.Modules) == 0 {
		batch.Delete(record.SymbolReferencesKey(entry.usr))
		return nil
	}
	data, err := record.EncodeSymbolReferences(sr)
	if err != nil {
		return err
	}
	batch.Put(record.SymbolReferencesKey(entry.usr), data)
	return nil
}

// DeleteUnexistFile removes a vanished file's contributions in one batch.
func (p *Project) DeleteUnexistFile(absPath string) {
	if _, err := os.Stat(absPath); err == nil {
		p.log.Error("path still exists", "path", absPath)
		return
	}
	if _, ok := p.srcPaths[absPath]; !ok {
		p.log.Info("path was not indexed", "path", absPath)
		return
	}

	delete(p.srcPaths, absPath)
	rel := p.rel(absPath)
	delete(p.inParsing, rel)

	batch := p.db.NewBatch()
	batch.Delete(record.FileInfoKey(rel))
	if err := p.removeFileContributions(rel, batch); err != nil {
		p.log.Error("remove contributions", "file", rel, "err", err)
		batch.Discard()
		return
	}
	if err := p.writeSrcPaths(batch); err != nil {
		p.log.Error("persist source paths", "err", err)
		batch.Discard()
		return
	}
	if err := batch.Write(); err != nil {
		p.log.Error("delete commit failed", "file", rel, "err", err)
	}
}

// wipeFileRows drops a file's definition and reference rows ahead of an
// explicit rebuild. The file stays in the source set.
func (p *Project) wipeFileRows(rel string) {
	batch := p.db.NewBatch()
	batch.Delete(record.FileInfoKey(rel))
	if err := p.removeFileContributions(rel, batch); err != nil {
		p.log.Error("wipe rows", "file", rel, "err", err)
		batch.Discard()
		return
	}
	if err := batch.Write(); err != nil {
		p.log.Error("wipe commit failed", "file", rel, "err", err)
	}
}

// removeFileContributions strips rel's entries from every aggregated
// definition and reference record and deletes its per-file keys.
func (p *Project) removeFileContributions(rel string, batch *kvstore.Batch) error {
	moduleName := p.flags.GetModuleName(rel)

	for usr := range p.loadFileSymbolSet(rel) {
		if err := p.removeSymbolModuleEntry(usr, moduleName, batch); err != nil {
			return err
		}
	}
	batch.Delete(record.FileSymbolsKey(rel))

	if v, err := p.db.Get(record.FileReferencesKey(rel)); err == nil {
		fr, err := record.DecodeFileReferences(v)
		if err != nil {
			return err
		}
		for _, item := range fr.Items {
			entry := refEntry{usr: item.USR, module: item.Module}
			if err := p.removeReferenceFile(entry, rel, batch); err != nil {
				return err
			}
		}
	}
	batch.Delete(record.FileReferencesKey(rel))

	return nil
}

// encodeFileReferences converts the reconciliation map to its stored form,
// ordered for deterministic bytes.
func encodeFileReferences(refs map[refEntry][]record.LineCol) ([]byte, error) {
	entries := make([]refEntry, 0, len(refs))
	for e := range refs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].usr != entries[j].usr {
			return entries[i].usr < entries[j].usr
		}
		return entries[i].module < entries[j].module
	})

	fr := record.FileReferences{Items: make([]record.FileRef, 0, len(entries))}
	for _, e := range entries {
		fr.Items = append(fr.Items, record.FileRef{
			USR:    e.usr,
			Module: e.module,
			Locs:   refs[e],
		})
	}
	return record.EncodeFileReferences(fr)
}

func sortLineCols(locs []record.LineCol) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Line != locs[j].Line {
			return locs[i].Line < locs[j].Line
		}
		return locs[i].Col < locs[j].Col
	})
}

func lineColsEqual(a, b []record.LineCol) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortSymbolReferences(sr *record.SymbolReferences) {
	sort.Slice(sr.Modules, func(i, j int) bool {
		return sr.Modules[i].Module < sr.Modules[j].Module
	})
	for i := range sr.Modules {
		files := sr.Modules[i].Files
		sort.Slice(files, func(a, b int) bool {
			return files[a].Path < files[b].Path
		})
	}
}
