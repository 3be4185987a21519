// Package parser turns one C/C++ source file into the definition and
// reference maps the indexer commits. It uses tree-sitter grammars; the
// C++ grammar parses files with a C++ extension, .h headers, and any file
// whose argument vector carries "-x c++"; every other file, .c included,
// is parsed with the C grammar.
//
// An Index owns mutable tree-sitter parser state and must only be used by
// one goroutine at a time; the server creates one Index per worker.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	ts_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	ts_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"

	"github.com/symdb-dev/symdb/internal/record"
)

// ErrParseFailed wraps a failed parse with its cause code.
var ErrParseFailed = errors.New("parser: parse failed")

// maxLoggedDiagnostics bounds how many syntax errors one parse logs.
const maxLoggedDiagnostics = 3

// cppExtensions are treated as C++ even without "-x c++" in the flags.
var cppExtensions = map[string]bool{
	".cpp": true, ".cc": true, ".cxx": true, ".c++": true,
	".hpp": true, ".hh": true, ".hxx": true, ".h++": true,
}

// IsSourceExtension reports whether ext names a C/C++ source or header.
func IsSourceExtension(ext string) bool {
	if cppExtensions[strings.ToLower(ext)] {
		return true
	}
	switch strings.ToLower(ext) {
	case ".c", ".h":
		return true
	}
	return false
}

// Resolver looks up where a USR is defined so references can name the
// defining file. Workers back it with read-only database gets.
type Resolver interface {
	// ResolveDefinition returns the project-relative path defining usr, or
	// "" when unknown.
	ResolveDefinition(usr string) string
}

// RefKey identifies one referenced symbol from a TU's point of view.
type RefKey struct {
	USR  string
	Path string // project-relative defining path; "" when outside the project
}

// Index is the long-lived parse state shared across files of one sync run.
type Index struct {
	parser *tree_sitter.Parser
	cpp    *tree_sitter.Language
	c      *tree_sitter.Language
}

// NewIndex creates parse state with the built-in C and C++ grammars.
func NewIndex() (*Index, error) {
	ix := &Index{
		parser: tree_sitter.NewParser(),
		cpp:    tree_sitter.NewLanguage(ts_cpp.Language()),
		c:      tree_sitter.NewLanguage(ts_c.Language()),
	}
	if ix.cpp == nil || ix.c == nil {
		return nil, fmt.Errorf("%w: grammar unavailable", ErrParseFailed)
	}
	return ix, nil
}

// SetGrammarPaths points the index at directories holding grammar shared
// objects. When a matching library is found it overrides the built-in
// grammar.
func (ix *Index) SetGrammarPaths(paths []string) {
	loader := NewDynamicLoader(paths)
	if lang, err := loader.LoadGrammar("cpp"); err == nil && lang != nil {
		ix.cpp = lang
	}
	if lang, err := loader.LoadGrammar("c"); err == nil && lang != nil {
		ix.c = lang
	}
}

// Close releases the underlying parser.
func (ix *Index) Close() {
	ix.parser.Close()
}

// TranslationUnit is one completed parse.
type TranslationUnit struct {
	Path string // absolute path of the parsed file

	// DefinedSymbols maps USR -> canonical location inside this file.
	DefinedSymbols map[string]record.Location

	// ReferencedSymbols maps (USR, defining path) -> reference sites.
	ReferencedSymbols map[RefKey][]record.LineCol
}

// Parse parses one file with the module's argument vector. The resolver may
// be nil, in which case only symbols defined in this TU resolve as
// reference targets.
func (ix *Index) Parse(path string, args []string, resolver Resolver) (*TranslationUnit, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	lang := ix.c
	if hasCppFlag(args) || cppExtensions[strings.ToLower(filepath.Ext(path))] ||
		strings.ToLower(filepath.Ext(path)) == ".h" {
		// Headers default to C++: the indexer serves mixed trees and the
		// C++ grammar is a superset for extraction purposes.
		lang = ix.cpp
	}

	if err := ix.parser.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	tree := ix.parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("%w: no tree for %s", ErrParseFailed, path)
	}
	defer tree.Close()

	root := tree.RootNode()
	logSyntaxErrors(path, root, source)

	tu := &TranslationUnit{
		Path:              path,
		DefinedSymbols:    make(map[string]record.Location),
		ReferencedSymbols: make(map[RefKey][]record.LineCol),
	}

	ext := newExtractor(source, tu, resolver)
	ext.collect(root)

	return tu, nil
}

// hasCppFlag reports whether the argument vector carries "-x c++".
func hasCppFlag(args []string) bool {
	for i, a := range args {
		if a == "-x" && i+1 < len(args) && strings.HasPrefix(args[i+1], "c++") {
			return true
		}
	}
	return false
}

// logSyntaxErrors logs the first few ERROR nodes. They do not abort the
// parse; tree-sitter recovers and the rest of the file still indexes.
func logSyntaxErrors(path string, root *tree_sitter.Node, source []byte) {
	if !root.HasError() {
		return
	}
	logged := 0
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if logged >= maxLoggedDiagnostics {
			return
		}
		if n.IsError() {
			pos := n.StartPosition()
			slog.Warn("syntax error", "file", path,
				"line", pos.Row+1, "col", pos.Column+1)
			logged++
			return
		}
		if !n.HasError() {
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
}
