package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client connects to the daemon over the local socket and issues one
// request/response pair per call.
type Client struct {
	sockPath string
	conn     net.Conn
}

// NewClient creates a client for the given socket path. The connection is
// established lazily on the first call.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// Close releases the connection if one was opened.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Ping reports whether the daemon answers on the socket.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.sockPath, err)
	}
	c.conn = conn
	return nil
}

// call writes one request and decodes the paired response into rsp.
func (c *Client) call(reqID, rspID int32, req, rsp any) error {
	if err := c.ensureConn(); err != nil {
		return err
	}
	if err := WriteMessage(c.conn, reqID, req); err != nil {
		return err
	}
	gotID, body, err := ReadMessage(c.conn)
	if err != nil {
		return err
	}
	if gotID != rspID {
		return fmt.Errorf("unexpected response id %d (want %d)", gotID, rspID)
	}
	return json.Unmarshal(body, rsp)
}

// CreateProject registers a project.
func (c *Client) CreateProject(name, home string) (*CreateProjectRsp, error) {
	var rsp CreateProjectRsp
	err := c.call(MsgCreateProjectReq, MsgCreateProjectRsp,
		CreateProjectReq{ProjName: name, HomeDir: home}, &rsp)
	return &rsp, err
}

// UpdateProject changes a project's home.
func (c *Client) UpdateProject(name, home string) (*UpdateProjectRsp, error) {
	var rsp UpdateProjectRsp
	err := c.call(MsgUpdateProjectReq, MsgUpdateProjectRsp,
		UpdateProjectReq{ProjName: name, HomeDir: home}, &rsp)
	return &rsp, err
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(name string) (*DeleteProjectRsp, error) {
	var rsp DeleteProjectRsp
	err := c.call(MsgDeleteProjectReq, MsgDeleteProjectRsp,
		DeleteProjectReq{ProjName: name}, &rsp)
	return &rsp, err
}

// ListProjects returns the live projects.
func (c *Client) ListProjects() (*ListProjectRsp, error) {
	var rsp ListProjectRsp
	err := c.call(MsgListProjectReq, MsgListProjectRsp, ListProjectReq{}, &rsp)
	return &rsp, err
}

// ListProjectFiles returns a project's source set.
func (c *Client) ListProjectFiles(name string) (*ListProjectFilesRsp, error) {
	var rsp ListProjectFilesRsp
	err := c.call(MsgListProjectFilesReq, MsgListProjectFilesRsp,
		ListProjectFilesReq{ProjName: name}, &rsp)
	return &rsp, err
}

// RebuildFile reparses one file.
func (c *Client) RebuildFile(name, relPath string) (*RebuildFileRsp, error) {
	var rsp RebuildFileRsp
	err := c.call(MsgRebuildFileReq, MsgRebuildFileRsp,
		RebuildFileReq{ProjName: name, RelPath: relPath}, &rsp)
	return &rsp, err
}

// GetSymbolDefinition resolves a USR's definitions.
func (c *Client) GetSymbolDefinition(name, symbol, absPath string) (*GetSymbolDefinitionRsp, error) {
	var rsp GetSymbolDefinitionRsp
	err := c.call(MsgGetSymbolDefinitionReq, MsgGetSymbolDefinitionRsp,
		GetSymbolDefinitionReq{ProjName: name, Symbol: symbol, AbsPath: absPath}, &rsp)
	return &rsp, err
}

// GetSymbolReferences resolves a USR's reference sites.
func (c *Client) GetSymbolReferences(name, symbol, path string) (*GetSymbolReferencesRsp, error) {
	var rsp GetSymbolReferencesRsp
	err := c.call(MsgGetSymbolReferencesReq, MsgGetSymbolReferencesRsp,
		GetSymbolReferencesReq{ProjName: name, Symbol: symbol, Path: path}, &rsp)
	return &rsp, err
}

// ListFileSymbols returns the USRs a file defines.
func (c *Client) ListFileSymbols(name, relPath string) (*ListFileSymbolsRsp, error) {
	var rsp ListFileSymbolsRsp
	err := c.call(MsgListFileSymbolsReq, MsgListFileSymbolsRsp,
		ListFileSymbolsReq{ProjName: name, RelPath: relPath}, &rsp)
	return &rsp, err
}

// ListFileReferences returns the symbols a file references.
func (c *Client) ListFileReferences(name, relPath string) (*ListFileReferencesRsp, error) {
	var rsp ListFileReferencesRsp
	err := c.call(MsgListFileReferencesReq, MsgListFileReferencesRsp,
		ListFileReferencesReq{ProjName: name, RelPath: relPath}, &rsp)
	return &rsp, err
}
