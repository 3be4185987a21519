package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/symdb-dev/symdb/internal/project"
	"github.com/symdb-dev/symdb/internal/protocol"
	"github.com/symdb-dev/symdb/internal/record"
)

// acceptLoop hands each connection its own session goroutine. Socket I/O
// stays off the main loop; every handler body runs on it.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	for {
		msgID, body, err := protocol.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("read request", "err", err)
			}
			return
		}

		rspID, rsp := s.handleRequest(msgID, body)
		if err := protocol.WriteMessage(conn, rspID, rsp); err != nil {
			slog.Warn("write response", "err", err)
			return
		}
	}
}

// callOnMain runs fn on the main loop and waits for its result. Sessions
// never touch project state directly.
func callOnMain[T any](s *Server, fn func() T) T {
	ch := make(chan T, 1)
	s.PostToMain(func() { ch <- fn() })
	select {
	case v := <-ch:
		return v
	case <-s.done:
		var zero T
		return zero
	}
}

// handleRequest decodes one request and produces the paired response.
func (s *Server) handleRequest(msgID int32, body []byte) (int32, any) {
	switch msgID {
	case protocol.MsgCreateProjectReq:
		return protocol.MsgCreateProjectRsp, s.createProject(body)
	case protocol.MsgUpdateProjectReq:
		return protocol.MsgUpdateProjectRsp, s.updateProject(body)
	case protocol.MsgDeleteProjectReq:
		return protocol.MsgDeleteProjectRsp, s.deleteProject(body)
	case protocol.MsgListProjectReq:
		return protocol.MsgListProjectRsp, s.listProjects()
	case protocol.MsgListProjectFilesReq:
		return protocol.MsgListProjectFilesRsp, s.listProjectFiles(body)
	case protocol.MsgRebuildFileReq:
		return protocol.MsgRebuildFileRsp, s.rebuildFile(body)
	case protocol.MsgGetSymbolDefinitionReq:
		return protocol.MsgGetSymbolDefinitionRsp, s.getSymbolDefinition(body)
	case protocol.MsgGetSymbolReferencesReq:
		return protocol.MsgGetSymbolReferencesRsp, s.getSymbolReferences(body)
	case protocol.MsgListFileSymbolsReq:
		return protocol.MsgListFileSymbolsRsp, s.listFileSymbols(body)
	case protocol.MsgListFileReferencesReq:
		return protocol.MsgListFileReferencesRsp, s.listFileReferences(body)
	default:
		slog.Warn("unknown message", "msg_id", msgID)
		return protocol.MsgInvalid, protocol.CreateProjectRsp{Error: "unknown msg_id"}
	}
}

func (s *Server) createProject(body []byte) protocol.CreateProjectRsp {
	var req protocol.CreateProjectReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.CreateProjectRsp{Error: err.Error()}
	}
	if !protocol.IsValidProjectName(req.ProjName) {
		return protocol.CreateProjectRsp{Error: protocol.ErrStrInvalidProjName}
	}

	return callOnMain(s, func() protocol.CreateProjectRsp {
		_, err := s.CreateProject(req.ProjName, req.HomeDir)
		if errors.Is(err, project.ErrInvalidHome) {
			return protocol.CreateProjectRsp{Error: protocol.ErrStrProjHomeNotExist}
		}
		if err != nil {
			return protocol.CreateProjectRsp{Error: err.Error()}
		}
		return protocol.CreateProjectRsp{}
	})
}

func (s *Server) updateProject(body []byte) protocol.UpdateProjectRsp {
	var req protocol.UpdateProjectReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.UpdateProjectRsp{Error: err.Error()}
	}
	if !protocol.IsValidProjectName(req.ProjName) {
		return protocol.UpdateProjectRsp{Error: protocol.ErrStrInvalidProjName}
	}

	return callOnMain(s, func() protocol.UpdateProjectRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.UpdateProjectRsp{Error: protocol.ErrStrProjectNotFound}
		}
		if err := p.ChangeHome(req.HomeDir); err != nil {
			if errors.Is(err, project.ErrInvalidHome) {
				return protocol.UpdateProjectRsp{Error: protocol.ErrStrProjHomeNotExist}
			}
			return protocol.UpdateProjectRsp{Error: err.Error()}
		}
		return protocol.UpdateProjectRsp{}
	})
}

func (s *Server) deleteProject(body []byte) protocol.DeleteProjectRsp {
	var req protocol.DeleteProjectReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.DeleteProjectRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.DeleteProjectRsp {
		if err := s.DeleteProject(req.ProjName); err != nil {
			return protocol.DeleteProjectRsp{Error: protocol.ErrStrProjectNotFound}
		}
		return protocol.DeleteProjectRsp{}
	})
}

func (s *Server) listProjects() protocol.ListProjectRsp {
	return callOnMain(s, func() protocol.ListProjectRsp {
		var rsp protocol.ListProjectRsp
		for name, p := range s.projects {
			rsp.Projects = append(rsp.Projects, protocol.ProjectBrief{
				Name:    name,
				HomeDir: p.HomePath(),
			})
		}
		return rsp
	})
}

func (s *Server) listProjectFiles(body []byte) protocol.ListProjectFilesRsp {
	var req protocol.ListProjectFilesReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.ListProjectFilesRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.ListProjectFilesRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.ListProjectFilesRsp{Error: protocol.ErrStrProjectNotFound}
		}
		return protocol.ListProjectFilesRsp{Files: p.ListFiles()}
	})
}

func (s *Server) rebuildFile(body []byte) protocol.RebuildFileRsp {
	var req protocol.RebuildFileReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.RebuildFileRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.RebuildFileRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.RebuildFileRsp{Error: protocol.ErrStrProjectNotFound}
		}
		p.RebuildFile(req.RelPath)
		return protocol.RebuildFileRsp{}
	})
}

func (s *Server) getSymbolDefinition(body []byte) protocol.GetSymbolDefinitionRsp {
	var req protocol.GetSymbolDefinitionReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.GetSymbolDefinitionRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.GetSymbolDefinitionRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.GetSymbolDefinitionRsp{Error: protocol.ErrStrProjectNotFound}
		}

		if req.AbsPath != "" {
			loc, err := p.QuerySymbolDefinitionHint(req.Symbol, req.AbsPath)
			if err != nil {
				return protocol.GetSymbolDefinitionRsp{Error: protocol.ErrStrSymbolNotFound}
			}
			return protocol.GetSymbolDefinitionRsp{Locations: wireLocations([]record.Location{loc})}
		}

		locs, err := p.QuerySymbolDefinition(req.Symbol)
		if err != nil {
			return protocol.GetSymbolDefinitionRsp{Error: protocol.ErrStrSymbolNotFound}
		}
		return protocol.GetSymbolDefinitionRsp{Locations: wireLocations(locs)}
	})
}

func (s *Server) getSymbolReferences(body []byte) protocol.GetSymbolReferencesRsp {
	var req protocol.GetSymbolReferencesReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.GetSymbolReferencesRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.GetSymbolReferencesRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.GetSymbolReferencesRsp{Error: protocol.ErrStrProjectNotFound}
		}
		locs, err := p.QuerySymbolReferences(req.Symbol, req.Path)
		if err != nil {
			return protocol.GetSymbolReferencesRsp{Error: protocol.ErrStrSymbolNotFound}
		}
		return protocol.GetSymbolReferencesRsp{Locations: wireLocations(locs)}
	})
}

func (s *Server) listFileSymbols(body []byte) protocol.ListFileSymbolsRsp {
	var req protocol.ListFileSymbolsReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.ListFileSymbolsRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.ListFileSymbolsRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.ListFileSymbolsRsp{Error: protocol.ErrStrProjectNotFound}
		}
		symbols, err := p.ListFileSymbols(normalizeRel(req.RelPath))
		if err != nil {
			return protocol.ListFileSymbolsRsp{Error: protocol.ErrStrSymbolNotFound}
		}
		return protocol.ListFileSymbolsRsp{Symbols: symbols}
	})
}

func (s *Server) listFileReferences(body []byte) protocol.ListFileReferencesRsp {
	var req protocol.ListFileReferencesReq
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.ListFileReferencesRsp{Error: err.Error()}
	}

	return callOnMain(s, func() protocol.ListFileReferencesRsp {
		p, err := s.GetProject(req.ProjName)
		if err != nil {
			return protocol.ListFileReferencesRsp{Error: protocol.ErrStrProjectNotFound}
		}
		items, err := p.ListFileReferences(normalizeRel(req.RelPath))
		if err != nil {
			return protocol.ListFileReferencesRsp{Error: protocol.ErrStrSymbolNotFound}
		}

		rsp := protocol.ListFileReferencesRsp{}
		for _, item := range items {
			ref := protocol.FileReference{Symbol: item.USR}
			for _, lc := range item.Locs {
				ref.Locations = append(ref.Locations, protocol.Location{
					Line: lc.Line, Col: lc.Col,
				})
			}
			rsp.References = append(rsp.References, ref)
		}
		return rsp
	})
}

func wireLocations(locs []record.Location) []protocol.Location {
	out := make([]protocol.Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, protocol.Location{Path: l.Path, Line: l.Line, Col: l.Col})
	}
	return out
}

// normalizeRel trims a leading "./" clients sometimes send.
func normalizeRel(rel string) string {
	return strings.TrimPrefix(rel, "./")
}
