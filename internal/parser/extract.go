package parser

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/symdb-dev/symdb/internal/record"
)

// extractor walks one parse tree and fills the TU's definition and
// reference maps.
type extractor struct {
	source   []byte
	tu       *TranslationUnit
	resolver Resolver

	scope  []scopeEntry      // enclosing namespace/class chain
	locals []map[string]bool // declared names per function scope

	// defsByName indexes this TU's definitions for reference resolution.
	defsByName map[string][]string // name -> USRs

	// seen suppresses a second symbol at coordinates already claimed;
	// sub-tokens of a macro expansion all report the expansion site.
	seen map[record.LineCol]bool

	// declNames marks identifier nodes (by start byte) that are declaration
	// names, not references.
	declNames map[uint]bool
}

func newExtractor(source []byte, tu *TranslationUnit, resolver Resolver) *extractor {
	return &extractor{
		source:     source,
		tu:         tu,
		resolver:   resolver,
		defsByName: make(map[string][]string),
		seen:       make(map[record.LineCol]bool),
		declNames:  make(map[uint]bool),
	}
}

func (e *extractor) text(n *tree_sitter.Node) string {
	return string(e.source[n.StartByte():n.EndByte()])
}

// nodeLoc returns the 1-based coordinate of a node.
func nodeLoc(n *tree_sitter.Node) record.LineCol {
	pos := n.StartPosition()
	return record.LineCol{Line: uint32(pos.Row + 1), Col: uint32(pos.Column + 1)}
}

// collect dispatches on node kind. Descent mirrors the indexer's needs:
// namespaces, type bodies, function bodies, declarations, and expressions
// recurse, as do preprocessor conditional blocks; include and macro
// directives, comments, and literals do not.
func (e *extractor) collect(n *tree_sitter.Node) {
	switch n.Kind() {
	case "namespace_definition":
		e.collectNamespace(n)
	case "class_specifier", "struct_specifier":
		e.collectClass(n)
	case "function_definition":
		e.collectFunction(n)
	case "template_declaration":
		e.collectChildren(n)
	case "type_definition":
		e.collectTypedef(n)
	case "alias_declaration":
		e.collectAlias(n)
	case "declaration":
		e.collectDeclaration(n)
	case "field_declaration":
		e.collectField(n)
	case "qualified_identifier":
		e.referenceQualified(n)
	case "field_expression":
		e.referenceMember(n)
	case "type_identifier":
		e.referenceName(n, n)
	case "identifier":
		e.referenceName(n, n)
	case "comment", "string_literal", "raw_string_literal", "char_literal",
		"preproc_include", "preproc_def", "preproc_function_def",
		"preproc_call":
		// no symbols inside
	default:
		e.collectChildren(n)
	}
}

func (e *extractor) collectChildren(n *tree_sitter.Node) {
	for i := uint(0); i < n.ChildCount(); i++ {
		e.collect(n.Child(i))
	}
}

func (e *extractor) collectNamespace(n *tree_sitter.Node) {
	name := ""
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = e.text(nameNode)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	if name == "" {
		// anonymous namespace: contents have internal linkage, skip
		return
	}
	e.scope = append(e.scope, scopeEntry{kind: 'N', name: name})
	e.collectChildren(body)
	e.scope = e.scope[:len(e.scope)-1]
}

func (e *extractor) collectClass(n *tree_sitter.Node) {
	body := n.ChildByFieldName("body")
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil || nameNode.Kind() != "type_identifier" {
		// anonymous or template-specialised; walk the body for methods only
		if body != nil {
			e.collectChildren(body)
		}
		return
	}
	if body == nil {
		// forward declaration: the name is a type reference
		e.referenceName(nameNode, nameNode)
		return
	}

	name := e.text(nameNode)
	e.declNames[nameNode.StartByte()] = true
	if !e.inFunctionScope() {
		e.define(kindType, name, nameNode)
	}

	// base classes are type references
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c.Kind() == "base_class_clause" {
			e.collectChildren(c)
		}
	}

	e.scope = append(e.scope, scopeEntry{kind: 'S', name: name})
	e.collectChildren(body)
	e.scope = e.scope[:len(e.scope)-1]
}

// collectFunction handles function, method, and constructor definitions.
func (e *extractor) collectFunction(n *tree_sitter.Node) {
	decl := n.ChildByFieldName("declarator")
	fnDecl := unwrapFunctionDeclarator(decl)
	if fnDecl == nil {
		return
	}

	nameNode := fnDecl.ChildByFieldName("declarator")
	if nameNode != nil {
		e.emitFunctionDefinition(n, fnDecl, nameNode)
	}

	// references in the return type and parameter types
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		e.collect(typeNode)
	}

	e.locals = append(e.locals, map[string]bool{})
	e.collectParameters(fnDecl)
	if body := n.ChildByFieldName("body"); body != nil {
		e.collectChildren(body)
	}
	e.locals = e.locals[:len(e.locals)-1]
}

func (e *extractor) emitFunctionDefinition(fn, fnDecl, nameNode *tree_sitter.Node) {
	switch nameNode.Kind() {
	case "identifier", "field_identifier":
		name := e.text(nameNode)
		e.declNames[nameNode.StartByte()] = true
		if strings.Contains(name, "operator") {
			return
		}
		isMethod := e.inClassScope()
		// methods and constructors are indexed unconditionally; free
		// functions only when non-static
		if !isMethod && hasStorageClass(fn, e.source, "static") {
			return
		}
		e.define(kindFunction, name, nameNode)

	case "destructor_name", "operator_name":
		// destructors and operators are not indexed

	case "qualified_identifier":
		// out-of-line definition: void Cls::m() { ... }
		qualifier, last := e.splitQualified(nameNode)
		if last == nil || strings.Contains(e.text(last), "operator") {
			return
		}
		if last.Kind() == "destructor_name" {
			return
		}
		e.declNames[last.StartByte()] = true
		scope := make([]scopeEntry, 0, len(e.scope)+len(qualifier))
		scope = append(scope, e.scope...)
		for _, q := range qualifier {
			scope = append(scope, scopeEntry{kind: 'S', name: q})
		}
		usr := buildUSR(scope, kindFunction, e.text(last))
		e.defineUSR(usr, e.text(last), last)
	}
}

// collectParameters records parameter names as locals and walks their types
// for references.
func (e *extractor) collectParameters(fnDecl *tree_sitter.Node) {
	params := fnDecl.ChildByFieldName("parameters")
	if params == nil {
		return
	}
	for i := uint(0); i < params.ChildCount(); i++ {
		p := params.Child(i)
		if p.Kind() != "parameter_declaration" &&
			p.Kind() != "optional_parameter_declaration" {
			continue
		}
		if typeNode := p.ChildByFieldName("type"); typeNode != nil {
			e.collect(typeNode)
		}
		if id := findDeclaratorName(p.ChildByFieldName("declarator")); id != nil {
			e.declNames[id.StartByte()] = true
			e.addLocal(e.text(id))
		}
	}
}

func (e *extractor) collectTypedef(n *tree_sitter.Node) {
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		e.collect(typeNode)
	}
	decl := n.ChildByFieldName("declarator")
	if decl == nil || decl.Kind() != "type_identifier" {
		return
	}
	e.declNames[decl.StartByte()] = true
	if !e.inFunctionScope() {
		e.define(kindTypedef, e.text(decl), decl)
	}
}

func (e *extractor) collectAlias(n *tree_sitter.Node) {
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		e.declNames[nameNode.StartByte()] = true
		if !e.inFunctionScope() {
			e.define(kindTypedef, e.text(nameNode), nameNode)
		}
	}
	if value := n.ChildByFieldName("value"); value != nil {
		e.collect(value)
	}
}

// collectDeclaration handles variable declarations and function prototypes.
func (e *extractor) collectDeclaration(n *tree_sitter.Node) {
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		e.collect(typeNode)
	}

	isStatic := hasStorageClass(n, e.source, "static")
	isExtern := hasStorageClass(n, e.source, "extern")

	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		switch c.Kind() {
		case "init_declarator":
			id := findDeclaratorName(c.ChildByFieldName("declarator"))
			if id != nil {
				e.declNames[id.StartByte()] = true
				if e.inFunctionScope() {
					e.addLocal(e.text(id))
				} else if !isStatic {
					e.define(kindVar, e.text(id), id)
				}
			}
			if value := c.ChildByFieldName("value"); value != nil {
				e.collect(value)
			}

		case "identifier":
			e.declNames[c.StartByte()] = true
			if e.inFunctionScope() {
				e.addLocal(e.text(c))
			} else if !isStatic && !isExtern {
				e.define(kindVar, e.text(c), c)
			}

		case "function_declarator":
			// prototype: the name declares, the parameter types reference
			if id := findDeclaratorName(c.ChildByFieldName("declarator")); id != nil {
				e.declNames[id.StartByte()] = true
			}
			if params := c.ChildByFieldName("parameters"); params != nil {
				e.collectChildren(params)
			}

		case "pointer_declarator", "reference_declarator", "array_declarator":
			if id := findDeclaratorName(c); id != nil {
				e.declNames[id.StartByte()] = true
				if e.inFunctionScope() {
					e.addLocal(e.text(id))
				} else if !isStatic && !isExtern {
					e.define(kindVar, e.text(id), id)
				}
			}
		}
	}
}

// collectField walks member declarations for type references; member names
// themselves are reached through their class's USR, not indexed separately.
func (e *extractor) collectField(n *tree_sitter.Node) {
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		e.collect(typeNode)
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if id := findDeclaratorName(c); id != nil {
			e.declNames[id.StartByte()] = true
		}
	}
}

// define emits a definition in the current scope.
func (e *extractor) define(kind symKind, name string, nameNode *tree_sitter.Node) {
	e.defineUSR(buildUSR(e.scope, kind, name), name, nameNode)
}

func (e *extractor) defineUSR(usr, name string, nameNode *tree_sitter.Node) {
	loc := nodeLoc(nameNode)
	if e.seen[loc] {
		return
	}
	e.seen[loc] = true
	e.tu.DefinedSymbols[usr] = record.Location{Line: loc.Line, Col: loc.Col}
	e.defsByName[name] = append(e.defsByName[name], usr)
}

// referenceName resolves a bare name reference against the TU's own
// definitions first, then the resolver.
func (e *extractor) referenceName(nameNode, site *tree_sitter.Node) {
	name := e.text(nameNode)
	if name == "" || strings.Contains(name, "operator") {
		return
	}
	if e.declNames[nameNode.StartByte()] || e.isLocal(name) {
		return
	}

	loc := nodeLoc(site)
	if e.seen[loc] {
		return
	}

	if usrs, ok := e.defsByName[name]; ok {
		e.addReference(usrs[0], e.tu.Path, loc)
		return
	}

	if e.resolver == nil {
		return
	}
	for _, usr := range candidateUSRs(e.scope, name) {
		if path := e.resolver.ResolveDefinition(usr); path != "" {
			e.addReference(usr, path, loc)
			return
		}
	}
}

// referenceQualified resolves ns::Cls::name references.
func (e *extractor) referenceQualified(n *tree_sitter.Node) {
	qualifier, last := e.splitQualified(n)
	if last == nil {
		return
	}
	name := e.text(last)
	if name == "" || strings.Contains(name, "operator") || e.declNames[last.StartByte()] {
		return
	}

	loc := nodeLoc(n)
	if e.seen[loc] {
		return
	}

	if isStdQualifier(qualifier) {
		// std/boost members are always accepted; they have no project file
		usr := buildUSR(nsScope(qualifier), kindFunction, name)
		e.addReference(usr, "", loc)
		return
	}

	for _, usr := range qualifiedCandidateUSRs(qualifier, name) {
		if _, ok := e.tu.DefinedSymbols[usr]; ok {
			e.addReference(usr, e.tu.Path, loc)
			return
		}
		if e.resolver != nil {
			if path := e.resolver.ResolveDefinition(usr); path != "" {
				e.addReference(usr, path, loc)
				return
			}
		}
	}
}

// referenceMember resolves obj.member / ptr->member sites. Without type
// information only members of types defined in this TU resolve; the rest
// under-report, which the index tolerates.
func (e *extractor) referenceMember(n *tree_sitter.Node) {
	if arg := n.ChildByFieldName("argument"); arg != nil {
		e.collect(arg)
	}
	field := n.ChildByFieldName("field")
	if field == nil {
		return
	}
	name := e.text(field)
	if name == "" || strings.Contains(name, "operator") {
		return
	}
	loc := nodeLoc(field)
	if e.seen[loc] {
		return
	}
	if usrs, ok := e.defsByName[name]; ok {
		e.addReference(usrs[0], e.tu.Path, loc)
	}
}

func (e *extractor) addReference(usr, path string, loc record.LineCol) {
	e.seen[loc] = true
	key := RefKey{USR: usr, Path: path}
	e.tu.ReferencedSymbols[key] = append(e.tu.ReferencedSymbols[key], loc)
}

// splitQualified splits a qualified_identifier into its qualifier chain and
// final name node.
func (e *extractor) splitQualified(n *tree_sitter.Node) ([]string, *tree_sitter.Node) {
	var qualifier []string
	cur := n
	for cur != nil && cur.Kind() == "qualified_identifier" {
		if scope := cur.ChildByFieldName("scope"); scope != nil {
			qualifier = append(qualifier, e.text(scope))
		}
		cur = cur.ChildByFieldName("name")
	}
	switch {
	case cur == nil:
		return qualifier, nil
	case cur.Kind() == "identifier", cur.Kind() == "type_identifier",
		cur.Kind() == "field_identifier", cur.Kind() == "destructor_name",
		cur.Kind() == "operator_name":
		return qualifier, cur
	default:
		return qualifier, nil
	}
}

func (e *extractor) inFunctionScope() bool {
	return len(e.locals) > 0
}

func (e *extractor) inClassScope() bool {
	return len(e.scope) > 0 && e.scope[len(e.scope)-1].kind == 'S'
}

func (e *extractor) addLocal(name string) {
	if len(e.locals) > 0 {
		e.locals[len(e.locals)-1][name] = true
	}
}

func (e *extractor) isLocal(name string) bool {
	for _, m := range e.locals {
		if m[name] {
			return true
		}
	}
	return false
}

// nsScope builds a namespace-only scope chain.
func nsScope(names []string) []scopeEntry {
	scope := make([]scopeEntry, len(names))
	for i, n := range names {
		scope[i] = scopeEntry{kind: 'N', name: n}
	}
	return scope
}

// unwrapFunctionDeclarator peels pointer/reference wrappers off a
// function_definition's declarator.
func unwrapFunctionDeclarator(n *tree_sitter.Node) *tree_sitter.Node {
	for n != nil {
		switch n.Kind() {
		case "function_declarator":
			return n
		case "pointer_declarator", "reference_declarator":
			n = n.ChildByFieldName("declarator")
		default:
			return nil
		}
	}
	return nil
}

// findDeclaratorName digs through declarator wrappers to the declared
// identifier.
func findDeclaratorName(n *tree_sitter.Node) *tree_sitter.Node {
	for n != nil {
		switch n.Kind() {
		case "identifier", "field_identifier":
			return n
		case "pointer_declarator", "reference_declarator", "array_declarator",
			"init_declarator", "parenthesized_declarator":
			n = n.ChildByFieldName("declarator")
		default:
			return nil
		}
	}
	return nil
}

// hasStorageClass reports whether a declaration node carries the given
// storage class specifier.
func hasStorageClass(n *tree_sitter.Node, source []byte, class string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c.Kind() == "storage_class_specifier" &&
			string(source[c.StartByte():c.EndByte()]) == class {
			return true
		}
	}
	return false
}
