package parser

import "strings"

// scopeEntry is one level of the enclosing namespace/class chain.
type scopeEntry struct {
	kind byte // 'N' namespace, 'S' class/struct
	name string
}

// symKind classifies a definition for USR building.
type symKind int

const (
	kindFunction symKind = iota // functions, methods, constructors
	kindType                    // class, struct, class template
	kindTypedef                 // typedef, alias
	kindVar                     // namespace-scope variable
)

// buildUSR produces a clang-compatible Unified Symbol Resolution string:
//
//	c:@F@fn#            free function
//	c:@N@ns@F@fn#       namespaced function
//	c:@S@Cls@F@m#       method (constructors use the class name)
//	c:@S@Cls            class/struct
//	c:@T@Alias          typedef/alias
//	c:@var              namespace-scope variable
func buildUSR(scope []scopeEntry, kind symKind, name string) string {
	var b strings.Builder
	b.WriteString("c:")
	for _, s := range scope {
		b.WriteByte('@')
		b.WriteByte(s.kind)
		b.WriteByte('@')
		b.WriteString(s.name)
	}
	switch kind {
	case kindFunction:
		b.WriteString("@F@")
		b.WriteString(name)
		b.WriteByte('#')
	case kindType:
		b.WriteString("@S@")
		b.WriteString(name)
	case kindTypedef:
		b.WriteString("@T@")
		b.WriteString(name)
	case kindVar:
		b.WriteByte('@')
		b.WriteString(name)
	}
	return b.String()
}

// candidateUSRs lists the USRs a bare name could resolve to, innermost scope
// first. Each scope prefix is tried with every symbol kind; function first
// because call sites dominate reference traffic.
func candidateUSRs(scope []scopeEntry, name string) []string {
	var out []string
	for i := len(scope); i >= 0; i-- {
		prefix := scope[:i]
		out = append(out,
			buildUSR(prefix, kindFunction, name),
			buildUSR(prefix, kindType, name),
			buildUSR(prefix, kindTypedef, name),
			buildUSR(prefix, kindVar, name),
		)
	}
	return out
}

// qualifiedCandidateUSRs lists the USRs a qualified name (ns::Cls::name)
// could resolve to. The qualifier chain is tried both as namespaces and as
// class scopes since the syntax alone cannot distinguish them.
func qualifiedCandidateUSRs(qualifier []string, name string) []string {
	kinds := []symKind{kindFunction, kindType, kindTypedef, kindVar}
	scopeNS := make([]scopeEntry, len(qualifier))
	scopeCls := make([]scopeEntry, len(qualifier))
	for i, q := range qualifier {
		scopeNS[i] = scopeEntry{kind: 'N', name: q}
		scopeCls[i] = scopeEntry{kind: 'S', name: q}
	}
	var out []string
	for _, k := range kinds {
		out = append(out, buildUSR(scopeNS, k, name))
	}
	for _, k := range kinds {
		out = append(out, buildUSR(scopeCls, k, name))
	}
	return out
}

// isStdQualifier reports whether a qualifier chain names the std or boost
// namespaces, whose members are always accepted as reference targets.
func isStdQualifier(qualifier []string) bool {
	return len(qualifier) > 0 && (qualifier[0] == "std" || qualifier[0] == "boost")
}
