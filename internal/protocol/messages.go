package protocol

// Request and response bodies. Every response carries an Error field that is
// non-empty exactly when the request failed.

// Location is a wire-format source location with an absolute path.
type Location struct {
	Path string `json:"path"`
	Line uint32 `json:"line"`
	Col  uint32 `json:"col"`
}

// CreateProjectReq registers a new project from an explicit home.
type CreateProjectReq struct {
	ProjName string `json:"proj_name"`
	HomeDir  string `json:"home_dir"`
}

// CreateProjectRsp acknowledges project creation.
type CreateProjectRsp struct {
	Error string `json:"error,omitempty"`
}

// UpdateProjectReq changes a project's home and forces a rebuild.
type UpdateProjectReq struct {
	ProjName string `json:"proj_name"`
	HomeDir  string `json:"home_dir"`
}

// UpdateProjectRsp acknowledges the update.
type UpdateProjectRsp struct {
	Error string `json:"error,omitempty"`
}

// DeleteProjectReq removes a project and its database.
type DeleteProjectReq struct {
	ProjName string `json:"proj_name"`
}

// DeleteProjectRsp acknowledges the deletion.
type DeleteProjectRsp struct {
	Error string `json:"error,omitempty"`
}

// ListProjectReq asks for all live projects.
type ListProjectReq struct{}

// ProjectBrief is one row of a project listing.
type ProjectBrief struct {
	Name    string `json:"name"`
	HomeDir string `json:"home_dir"`
}

// ListProjectRsp lists the live projects.
type ListProjectRsp struct {
	Projects []ProjectBrief `json:"projects"`
	Error    string         `json:"error,omitempty"`
}

// ListProjectFilesReq asks for a project's source set.
type ListProjectFilesReq struct {
	ProjName string `json:"proj_name"`
}

// ListProjectFilesRsp lists project-relative source paths.
type ListProjectFilesRsp struct {
	Files []string `json:"files"`
	Error string   `json:"error,omitempty"`
}

// RebuildFileReq reparses one file from scratch.
type RebuildFileReq struct {
	ProjName string `json:"proj_name"`
	RelPath  string `json:"rel_path"`
}

// RebuildFileRsp acknowledges the rebuild request.
type RebuildFileRsp struct {
	Error string `json:"error,omitempty"`
}

// GetSymbolDefinitionReq resolves a USR to its definitions. AbsPath, when
// set, prefers the definition from the module owning that path.
type GetSymbolDefinitionReq struct {
	ProjName string `json:"proj_name"`
	Symbol   string `json:"symbol"`
	AbsPath  string `json:"abs_path,omitempty"`
}

// GetSymbolDefinitionRsp carries the definition locations.
type GetSymbolDefinitionRsp struct {
	Locations []Location `json:"locations"`
	Error     string     `json:"error,omitempty"`
}

// GetSymbolReferencesReq resolves a USR to its reference sites. Path, when
// set, restricts the answer to that path's module if it has any.
type GetSymbolReferencesReq struct {
	ProjName string `json:"proj_name"`
	Symbol   string `json:"symbol"`
	Path     string `json:"path,omitempty"`
}

// GetSymbolReferencesRsp carries the reference locations.
type GetSymbolReferencesRsp struct {
	Locations []Location `json:"locations"`
	Error     string     `json:"error,omitempty"`
}

// ListFileSymbolsReq asks which USRs a file defines.
type ListFileSymbolsReq struct {
	ProjName string `json:"proj_name"`
	RelPath  string `json:"rel_path"`
}

// ListFileSymbolsRsp lists the defined USRs.
type ListFileSymbolsRsp struct {
	Symbols []string `json:"symbols"`
	Error   string   `json:"error,omitempty"`
}

// ListFileReferencesReq asks which symbols a file references.
type ListFileReferencesReq struct {
	ProjName string `json:"proj_name"`
	RelPath  string `json:"rel_path"`
}

// FileReference is one referenced symbol with its sites in the file.
type FileReference struct {
	Symbol    string     `json:"symbol"`
	Locations []Location `json:"locations"`
}

// ListFileReferencesRsp lists the file's references.
type ListFileReferencesRsp struct {
	References []FileReference `json:"references"`
	Error      string          `json:"error,omitempty"`
}
