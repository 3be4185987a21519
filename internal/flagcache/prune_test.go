package flagcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPruneLiteralCommand(t *testing.T) {
	tokens := strings.Fields("/usr/bin/c++ -c -o foo.o -I/inc -Wall /home/p/foo.cpp")
	got := PruneCompilerFlags(tokens, "/home/p/foo.cpp")
	assert.Equal(t, []string{"-x", "c++", "-I/inc", "-Wall"}, got)
}

func TestPruneCCompiler(t *testing.T) {
	tokens := strings.Fields("/usr/bin/gcc -c -MD -MF foo.d -I/inc /home/p/foo.c")
	got := PruneCompilerFlags(tokens, "/home/p/foo.c")
	assert.Equal(t, []string{"-I/inc"}, got, "a C driver gets no -x c++")
}

func TestPruneVersionedCppDrivers(t *testing.T) {
	cases := []struct {
		compiler string
		isCpp    bool
	}{
		{"/usr/bin/c++", true},
		{"g++", true},
		{"clang++", true},
		{"/opt/bin/g++-4.9", true},
		{"clang++-3.7", true},
		{"c++-10.2", true},
		{"gcc", false},
		{"clang", false},
		{"cc", false},
	}
	for _, tc := range cases {
		got := PruneCompilerFlags([]string{tc.compiler, "-I/x", "a.cpp"}, "a.cpp")
		if tc.isCpp {
			assert.Equal(t, []string{"-x", "c++", "-I/x", "a.cpp"}, got, tc.compiler)
		} else {
			assert.Equal(t, []string{"-I/x", "a.cpp"}, got, tc.compiler)
		}
	}
}

func TestPruneLeadingDashedTokens(t *testing.T) {
	// stray option-only entries before the compiler are dropped first
	tokens := []string{"-some", "-junk", "g++", "-Wall", "/p/a.cpp"}
	got := PruneCompilerFlags(tokens, "/p/a.cpp")
	assert.Equal(t, []string{"-x", "c++", "-Wall"}, got)
}

func TestPruneOneArgOptions(t *testing.T) {
	tokens := strings.Fields("c++ -MT target -MQ q -MF dep.d --serialize-diagnostics diag -I/inc a.cpp")
	got := PruneCompilerFlags(tokens, "/elsewhere/a.cpp")
	assert.Equal(t, []string{"-x", "c++", "-I/inc", "a.cpp"}, got,
		"relative source path is kept; only the absolute form is removed")
}

func TestPruneAllTokensDashed(t *testing.T) {
	got := PruneCompilerFlags([]string{"-only", "-flags"}, "a.cpp")
	assert.Nil(t, got)
}

func TestPruneKeepsDefinesAndWarnings(t *testing.T) {
	tokens := strings.Fields("g++ -c -DNDEBUG -DVERSION=3 -Wextra -rdynamic --fcolor-diagnostics -std=c++17 /p/a.cpp")
	got := PruneCompilerFlags(tokens, "/p/a.cpp")
	assert.Equal(t, []string{"-x", "c++", "-DNDEBUG", "-DVERSION=3", "-Wextra", "-std=c++17"}, got)
}
