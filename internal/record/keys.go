package record

// Database key layout. Keys are UTF-8 with ":" as the delimiter:
//
//	file:info:<rel>     FileInfo
//	file:symdef:<rel>   FileSymbols
//	file:symref:<rel>   FileReferences
//	symdef:<usr>        SymbolDefinition
//	symref:<usr>        SymbolReferences
//	<project_name>      ProjectInfo
//	home                project home path (raw string)

// HomeKey holds the project's home path so a database can be rehydrated
// before any configuration is consulted.
const HomeKey = "home"

// FileInfoKey returns the skip-cache key for a project-relative path.
func FileInfoKey(rel string) string {
	return "file:info:" + rel
}

// FileSymbolsKey returns the defined-symbols key for a project-relative path.
func FileSymbolsKey(rel string) string {
	return "file:symdef:" + rel
}

// FileReferencesKey returns the referenced-symbols key for a
// project-relative path.
func FileReferencesKey(rel string) string {
	return "file:symref:" + rel
}

// SymbolDefinitionKey returns the aggregated definition key for a USR.
func SymbolDefinitionKey(usr string) string {
	return "symdef:" + usr
}

// SymbolReferencesKey returns the aggregated reference key for a USR.
func SymbolReferencesKey(usr string) string {
	return "symref:" + usr
}
