package flagcache

import (
	"path/filepath"
	"regexp"
	"strings"
)

// cppCompilerRe detects C++ driver executables, versioned or not
// (c++, g++, clang++, g++-4.9, clang++-3.7, c++-10.2).
var cppCompilerRe = regexp.MustCompile(`\+\+(-\d+(\.\d+){0,2})?$`)

// flagsToSkip maps dropped options to the number of following arguments
// that are dropped with them. Only caring about -I/-D/-W style flags would
// be simpler, but then many benign flags would be lost too.
var flagsToSkip = map[string]int{
	"-c":                      0,
	"-MD":                     0,
	"-MMD":                    0,
	"-MP":                     0,
	"-rdynamic":               0,
	"--fcolor-diagnostics":    0,
	"-MF":                     1,
	"-MQ":                     1,
	"-MT":                     1,
	"-o":                      1,
	"--serialize-diagnostics": 1,
}

// PruneCompilerFlags reduces a tokenised compile command to the argument
// vector handed to the parser:
//
//  1. leading dashed tokens are dropped (stray option-only entries)
//  2. a C++ driver inserts "-x c++" at the head
//  3. the compiler token itself is removed
//  4. build-only options (and their arguments) are dropped
//  5. the source file's own absolute path is removed
func PruneCompilerFlags(tokens []string, filename string) []string {
	i := 0
	for i < len(tokens) && strings.HasPrefix(tokens[i], "-") {
		i++
	}
	tokens = tokens[i:]

	if len(tokens) == 0 {
		return nil
	}

	compiler := tokens[0]
	tokens = tokens[1:]

	out := make([]string, 0, len(tokens)+2)
	if cppCompilerRe.MatchString(filepath.Base(compiler)) {
		out = append(out, "-x", "c++")
	}

	for j := 0; j < len(tokens); j++ {
		tok := tokens[j]
		if skip, ok := flagsToSkip[tok]; ok {
			j += skip
			continue
		}
		if strings.HasPrefix(tok, "/") && tok == filename {
			continue
		}
		out = append(out, tok)
	}

	return out
}
