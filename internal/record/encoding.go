package record

// Encode/Decode pairs for every persisted record type. Encoders return a
// fresh buffer; decoders never retain the input slice.

// EncodeFileInfo encodes the fixed 24-byte skip-cache row.
func EncodeFileInfo(fi FileInfo) []byte {
	var w writer
	w.u64(uint64(fi.LastMtime))
	w.buf = append(w.buf, fi.ContentMD5[:]...)
	return w.buf
}

// DecodeFileInfo decodes a skip-cache row.
func DecodeFileInfo(data []byte) (FileInfo, error) {
	var fi FileInfo
	r := reader{data: data}
	mtime, err := r.u64()
	if err != nil {
		return fi, err
	}
	if err := r.need(16); err != nil {
		return fi, err
	}
	fi.LastMtime = int64(mtime)
	copy(fi.ContentMD5[:], r.data[r.off:r.off+16])
	return fi, nil
}

// EncodeFileSymbols encodes a file's defined-USR set.
func EncodeFileSymbols(fs FileSymbols) ([]byte, error) {
	var w writer
	w.u32(uint32(len(fs.USRs)))
	for _, usr := range fs.USRs {
		if err := w.str(usr); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// DecodeFileSymbols decodes a file's defined-USR set.
func DecodeFileSymbols(data []byte) (FileSymbols, error) {
	var fs FileSymbols
	r := reader{data: data}
	n, err := r.u32()
	if err != nil {
		return fs, err
	}
	fs.USRs = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		usr, err := r.str()
		if err != nil {
			return fs, err
		}
		fs.USRs = append(fs.USRs, usr)
	}
	return fs, nil
}

// EncodeFileReferences encodes a file's referenced-symbol list.
func EncodeFileReferences(fr FileReferences) ([]byte, error) {
	var w writer
	w.u32(uint32(len(fr.Items)))
	for _, item := range fr.Items {
		if err := w.str(item.USR); err != nil {
			return nil, err
		}
		if err := w.str(item.Module); err != nil {
			return nil, err
		}
		w.lineCols(item.Locs)
	}
	return w.buf, nil
}

// DecodeFileReferences decodes a file's referenced-symbol list.
func DecodeFileReferences(data []byte) (FileReferences, error) {
	var fr FileReferences
	r := reader{data: data}
	n, err := r.u32()
	if err != nil {
		return fr, err
	}
	fr.Items = make([]FileRef, 0, n)
	for i := uint32(0); i < n; i++ {
		var item FileRef
		if item.USR, err = r.str(); err != nil {
			return fr, err
		}
		if item.Module, err = r.str(); err != nil {
			return fr, err
		}
		if item.Locs, err = r.lineCols(); err != nil {
			return fr, err
		}
		fr.Items = append(fr.Items, item)
	}
	return fr, nil
}

// EncodeSymbolDefinition encodes a USR's per-module location list.
func EncodeSymbolDefinition(sd SymbolDefinition) ([]byte, error) {
	var w writer
	w.u32(uint32(len(sd.Locations)))
	for _, loc := range sd.Locations {
		if err := w.str(loc.Path); err != nil {
			return nil, err
		}
		w.u32(loc.Line)
		w.u32(loc.Col)
	}
	return w.buf, nil
}

// DecodeSymbolDefinition decodes a USR's per-module location list.
func DecodeSymbolDefinition(data []byte) (SymbolDefinition, error) {
	var sd SymbolDefinition
	r := reader{data: data}
	n, err := r.u32()
	if err != nil {
		return sd, err
	}
	sd.Locations = make([]Location, 0, n)
	for i := uint32(0); i < n; i++ {
		var loc Location
		if loc.Path, err = r.str(); err != nil {
			return sd, err
		}
		if loc.Line, err = r.u32(); err != nil {
			return sd, err
		}
		if loc.Col, err = r.u32(); err != nil {
			return sd, err
		}
		sd.Locations = append(sd.Locations, loc)
	}
	return sd, nil
}

// EncodeSymbolReferences encodes a USR's module/file reference tree.
func EncodeSymbolReferences(sr SymbolReferences) ([]byte, error) {
	var w writer
	w.u32(uint32(len(sr.Modules)))
	for _, mod := range sr.Modules {
		if err := w.str(mod.Module); err != nil {
			return nil, err
		}
		w.u32(uint32(len(mod.Files)))
		for _, f := range mod.Files {
			if err := w.str(f.Path); err != nil {
				return nil, err
			}
			w.lineCols(f.Locs)
		}
	}
	return w.buf, nil
}

// DecodeSymbolReferences decodes a USR's module/file reference tree.
func DecodeSymbolReferences(data []byte) (SymbolReferences, error) {
	var sr SymbolReferences
	r := reader{data: data}
	n, err := r.u32()
	if err != nil {
		return sr, err
	}
	sr.Modules = make([]ModuleRefs, 0, n)
	for i := uint32(0); i < n; i++ {
		var mod ModuleRefs
		if mod.Module, err = r.str(); err != nil {
			return sr, err
		}
		fileCount, err := r.u32()
		if err != nil {
			return sr, err
		}
		mod.Files = make([]FileLocs, 0, fileCount)
		for j := uint32(0); j < fileCount; j++ {
			var f FileLocs
			if f.Path, err = r.str(); err != nil {
				return sr, err
			}
			if f.Locs, err = r.lineCols(); err != nil {
				return sr, err
			}
			mod.Files = append(mod.Files, f)
		}
		sr.Modules = append(sr.Modules, mod)
	}
	return sr, nil
}

// EncodeProjectInfo encodes the project's relative source-path snapshot.
func EncodeProjectInfo(pi ProjectInfo) ([]byte, error) {
	var w writer
	w.u32(uint32(len(pi.RelPaths)))
	for _, p := range pi.RelPaths {
		if err := w.str(p); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// DecodeProjectInfo decodes the project's relative source-path snapshot.
func DecodeProjectInfo(data []byte) (ProjectInfo, error) {
	var pi ProjectInfo
	r := reader{data: data}
	n, err := r.u32()
	if err != nil {
		return pi, err
	}
	pi.RelPaths = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := r.str()
		if err != nil {
			return pi, err
		}
		pi.RelPaths = append(pi.RelPaths, p)
	}
	return pi, nil
}
