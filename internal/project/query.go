package project

import (
	"errors"
	"sort"

	"github.com/symdb-dev/symdb/internal/kvstore"
	"github.com/symdb-dev/symdb/internal/record"
)

// ErrSymbolNotFound is returned by queries for unknown USRs or files.
var ErrSymbolNotFound = errors.New("project: symbol not found")

// QuerySymbolDefinition returns every stored definition of a USR with
// absolute paths.
func (p *Project) QuerySymbolDefinition(usr string) ([]record.Location, error) {
	sd, err := p.lookupSymbolDefinition(usr)
	if err != nil {
		return nil, err
	}

	locs := make([]record.Location, 0, len(sd.Locations))
	for _, loc := range sd.Locations {
		locs = append(locs, record.Location{
			Path: p.abs(loc.Path), Line: loc.Line, Col: loc.Col,
		})
	}
	return locs, nil
}

// QuerySymbolDefinitionHint returns the definition from the module owning
// absPath when it has one, else the first stored location.
func (p *Project) QuerySymbolDefinitionHint(usr, absPath string) (record.Location, error) {
	sd, err := p.lookupSymbolDefinition(usr)
	if err != nil {
		return record.Location{}, err
	}

	module := p.flags.GetModuleName(absPath)
	if module != "" {
		for _, loc := range sd.Locations {
			if p.flags.GetModuleName(loc.Path) == module {
				return record.Location{
					Path: p.abs(loc.Path), Line: loc.Line, Col: loc.Col,
				}, nil
			}
		}
	}

	first := sd.Locations[0]
	return record.Location{
		Path: p.abs(first.Path), Line: first.Line, Col: first.Col,
	}, nil
}

func (p *Project) lookupSymbolDefinition(usr string) (record.SymbolDefinition, error) {
	v, err := p.db.Get(record.SymbolDefinitionKey(usr))
	if errors.Is(err, kvstore.ErrNotFound) {
		return record.SymbolDefinition{}, ErrSymbolNotFound
	}
	if err != nil {
		return record.SymbolDefinition{}, err
	}
	sd, err := record.DecodeSymbolDefinition(v)
	if err != nil {
		return record.SymbolDefinition{}, err
	}
	if len(sd.Locations) == 0 {
		return record.SymbolDefinition{}, ErrSymbolNotFound
	}
	return sd, nil
}

// QuerySymbolReferences returns every stored reference site of a USR with
// absolute paths. With a path hint, only the hint module's references are
// returned when that module has any.
func (p *Project) QuerySymbolReferences(usr, pathHint string) ([]record.Location, error) {
	v, err := p.db.Get(record.SymbolReferencesKey(usr))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrSymbolNotFound
	}
	if err != nil {
		return nil, err
	}
	sr, err := record.DecodeSymbolReferences(v)
	if err != nil {
		return nil, err
	}

	modules := sr.Modules
	if pathHint != "" {
		if hint := p.flags.GetModuleName(pathHint); hint != "" {
			for _, m := range sr.Modules {
				if m.Module == hint {
					modules = []record.ModuleRefs{m}
					break
				}
			}
		}
	}

	var locs []record.Location
	for _, m := range modules {
		for _, f := range m.Files {
			for _, lc := range f.Locs {
				locs = append(locs, record.Location{
					Path: p.abs(f.Path), Line: lc.Line, Col: lc.Col,
				})
			}
		}
	}
	if len(locs) == 0 {
		return nil, ErrSymbolNotFound
	}
	return locs, nil
}

// ListFileSymbols returns the USRs a file defines.
func (p *Project) ListFileSymbols(rel string) ([]string, error) {
	v, err := p.db.Get(record.FileSymbolsKey(rel))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrSymbolNotFound
	}
	if err != nil {
		return nil, err
	}
	fs, err := record.DecodeFileSymbols(v)
	if err != nil {
		return nil, err
	}
	return fs.USRs, nil
}

// ListFileReferences returns the symbols a file references together with
// their sites in the file.
func (p *Project) ListFileReferences(rel string) ([]record.FileRef, error) {
	v, err := p.db.Get(record.FileReferencesKey(rel))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrSymbolNotFound
	}
	if err != nil {
		return nil, err
	}
	fr, err := record.DecodeFileReferences(v)
	if err != nil {
		return nil, err
	}
	return fr.Items, nil
}

// ListFiles returns the project's source set as sorted relative paths.
func (p *Project) ListFiles() []string {
	files := make([]string, 0, len(p.srcPaths))
	for abs := range p.srcPaths {
		files = append(files, p.rel(abs))
	}
	sort.Strings(files)
	return files
}
