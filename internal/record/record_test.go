package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInfoRoundTrip(t *testing.T) {
	fi := FileInfo{LastMtime: 1722800000}
	copy(fi.ContentMD5[:], "0123456789abcdef")

	data := EncodeFileInfo(fi)
	assert.Len(t, data, 24, "skip-cache row is fixed size")

	got, err := DecodeFileInfo(data)
	require.NoError(t, err)
	assert.Equal(t, fi, got)
}

func TestSymbolReferencesRoundTrip(t *testing.T) {
	sr := SymbolReferences{
		Modules: []ModuleRefs{
			{
				Module: "exe",
				Files: []FileLocs{
					{Path: "src/main.cpp", Locs: []LineCol{{Line: 10, Col: 5}, {Line: 42, Col: 13}}},
					{Path: "src/util.cpp", Locs: []LineCol{{Line: 7, Col: 1}}},
				},
			},
			{
				Module: "lib",
				Files:  []FileLocs{{Path: "lib/x.cpp", Locs: []LineCol{{Line: 3, Col: 9}}}},
			},
		},
	}

	data, err := EncodeSymbolReferences(sr)
	require.NoError(t, err)

	got, err := DecodeSymbolReferences(data)
	require.NoError(t, err)
	assert.Equal(t, sr, got)
}

func TestFileReferencesRoundTrip(t *testing.T) {
	fr := FileReferences{
		Items: []FileRef{
			{USR: "c:@F@fn#", Module: "exe", Locs: []LineCol{{Line: 12, Col: 4}}},
			{USR: "c:@S@Cls", Module: "lib", Locs: []LineCol{{Line: 2, Col: 1}, {Line: 9, Col: 11}}},
		},
	}

	data, err := EncodeFileReferences(fr)
	require.NoError(t, err)

	got, err := DecodeFileReferences(data)
	require.NoError(t, err)
	assert.Equal(t, fr, got)
}

func TestDecodeTruncatedData(t *testing.T) {
	sd := SymbolDefinition{Locations: []Location{
		{Path: "a.cpp", Line: 1, Col: 6},
		{Path: "lib/b.cpp", Line: 20, Col: 8},
	}}
	data, err := EncodeSymbolDefinition(sd)
	require.NoError(t, err)

	// every truncation point must error, never panic
	for n := 0; n < len(data); n++ {
		_, err := DecodeSymbolDefinition(data[:n])
		assert.Error(t, err, "truncated at %d", n)
	}

	got, err := DecodeSymbolDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, sd, got)
}

func TestEmptyRecords(t *testing.T) {
	data, err := EncodeFileSymbols(FileSymbols{})
	require.NoError(t, err)
	fs, err := DecodeFileSymbols(data)
	require.NoError(t, err)
	assert.Empty(t, fs.USRs)

	data, err = EncodeProjectInfo(ProjectInfo{RelPaths: []string{"a.cpp", "sub/b.cpp"}})
	require.NoError(t, err)
	pi, err := DecodeProjectInfo(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.cpp", "sub/b.cpp"}, pi.RelPaths)
}

func TestLocationValidity(t *testing.T) {
	assert.False(t, Location{}.IsValid())
	assert.False(t, Location{Path: "a.cpp"}.IsValid())
	assert.True(t, Location{Path: "a.cpp", Line: 1, Col: 6}.IsValid())
	assert.Equal(t, "a.cpp:1:6", Location{Path: "a.cpp", Line: 1, Col: 6}.String())
}
