// Package server hosts the process-wide coordinator: a single main loop
// that owns every project indexer, a worker pool that only parses, the
// shared watch hub, and the local-socket listener.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/symdb-dev/symdb/internal/config"
	"github.com/symdb-dev/symdb/internal/parser"
	"github.com/symdb-dev/symdb/internal/project"
	"github.com/symdb-dev/symdb/internal/watcher"
)

// Server is the process-wide coordinator. All fields after Run are owned by
// the main loop goroutine; other goroutines interact via PostToMain.
type Server struct {
	cfg *config.Config

	// ConfigureCommand overrides every project's configure argv (tests).
	ConfigureCommand []string

	mainCh   chan func()
	workCh   chan func(ix *parser.Index)
	done     chan struct{}
	loopDone chan struct{}

	hub      *watcher.Hub
	listener net.Listener
	projects map[string]*project.Project

	workers  *errgroup.Group
	wg       sync.WaitGroup
	stopOnce sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates an idle server for the given configuration.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:      cfg,
		mainCh:   make(chan func(), 1024),
		workCh:   make(chan func(ix *parser.Index), 1024),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		projects: make(map[string]*project.Project),
		conns:    make(map[net.Conn]struct{}),
	}
}

// IsServerRunning probes the socket; a successful connect means another
// daemon already serves it.
func IsServerRunning(sockPath string) bool {
	conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Run starts the worker pool, the watch hub, and the listener, loads the
// configured projects, and then drives the main loop until Stop. It blocks.
func (s *Server) Run() error {
	defer close(s.loopDone)

	if IsServerRunning(s.cfg.ListenPath) {
		return fmt.Errorf("server: socket %s already served", s.cfg.ListenPath)
	}
	os.Remove(s.cfg.ListenPath)

	ln, err := net.Listen("unix", s.cfg.ListenPath)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln

	hub, err := watcher.NewHub()
	if err != nil {
		return err
	}
	s.hub = hub
	hub.OnEvent = func(ev watcher.Event) {
		s.PostToMain(func() { s.demux(ev) })
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hub.Run()
	}()

	// one worker per logical CPU, each with its own parser state
	s.workers = &errgroup.Group{}
	for i := 0; i < runtime.NumCPU(); i++ {
		s.workers.Go(s.workerLoop)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.PostToMain(s.loadConfiguredProjects)

	slog.Info("server running", "listen", s.cfg.ListenPath)
	s.mainLoop()
	return nil
}

// mainLoop executes every state-owning closure in order.
func (s *Server) mainLoop() {
	for {
		select {
		case task := <-s.mainCh:
			s.runTask(task)
		case <-s.done:
			// drain what is already queued, then drop projects
			for {
				select {
				case task := <-s.mainCh:
					s.runTask(task)
				default:
					for _, p := range s.projects {
						p.Drop()
					}
					return
				}
			}
		}
	}
}

// runTask isolates panics so a failing callback cannot take the loop down.
func (s *Server) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("main task panic", "panic", r)
		}
	}()
	task()
}

// workerLoop drains parse tasks. Each worker owns one parser index for its
// lifetime; the parse library state is never shared between goroutines.
func (s *Server) workerLoop() error {
	ix, err := parser.NewIndex()
	if err != nil {
		return err
	}
	defer ix.Close()

	// a grammars directory under the data dir overrides the built-in
	// tree-sitter grammars with newer shared objects
	grammarDir := filepath.Join(s.cfg.DataDir, "grammars")
	if _, err := os.Stat(grammarDir); err == nil {
		ix.SetGrammarPaths([]string{grammarDir})
	}

	for {
		select {
		case task := <-s.workCh:
			s.runWorkerTask(task, ix)
		case <-s.done:
			return nil
		}
	}
}

func (s *Server) runWorkerTask(task func(ix *parser.Index), ix *parser.Index) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panic", "panic", r)
		}
	}()
	task(ix)
}

// PostToMain schedules a closure on the main loop. Posts after Stop are
// dropped.
func (s *Server) PostToMain(task func()) {
	select {
	case s.mainCh <- task:
	case <-s.done:
	}
}

// PostToWorker schedules a parse task on the worker pool.
func (s *Server) PostToWorker(task func(ix *parser.Index)) {
	select {
	case s.workCh <- task:
	case <-s.done:
	}
}

// Stop shuts the server down and removes the socket file. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		if s.hub != nil {
			s.hub.Close()
		}
		s.connMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connMu.Unlock()
		if s.workers != nil {
			s.workers.Wait()
		}
		s.wg.Wait()
		<-s.loopDone
		os.Remove(s.cfg.ListenPath)
	})
}

// deps builds the collaborator bundle handed to every project.
func (s *Server) deps() project.Deps {
	return project.Deps{
		DataDir:           s.cfg.DataDir,
		SystemIncludeArgs: s.cfg.SystemIncludeArgs,
		Poster:            s,
		Hub:               s.hub,
		Global:            s.cfg,
		ConfigureCommand:  s.ConfigureCommand,
	}
}

// loadConfiguredProjects builds every project from the configuration. A
// failing project is dropped; the server continues.
func (s *Server) loadConfiguredProjects() {
	for _, pc := range s.cfg.Projects {
		if existing, ok := s.projects[pc.Name]; ok {
			if existing.HomePath() != pc.HomePath {
				slog.Error("project already exists with different home",
					"project", pc.Name, "home", existing.HomePath())
			}
			continue
		}
		p, err := project.CreateFromConfig(pc, s.deps())
		if err != nil {
			slog.Error("project init failed", "project", pc.Name, "err", err)
			continue
		}
		s.projects[pc.Name] = p
	}
}

// GetProject returns a live project, lazily rehydrating it from its
// database when the name is not in memory.
func (s *Server) GetProject(name string) (*project.Project, error) {
	if p, ok := s.projects[name]; ok {
		return p, nil
	}
	p, err := project.CreateFromDatabase(name, s.deps())
	if err != nil {
		slog.Error("load project failed", "project", name, "err", err)
		return nil, err
	}
	s.projects[name] = p
	return p, nil
}

// CreateProject registers a new project with an explicit home. Creating an
// existing project with the same home is idempotent.
func (s *Server) CreateProject(name, home string) (*project.Project, error) {
	if p, ok := s.projects[name]; ok {
		if p.HomePath() == home {
			return p, nil
		}
		return nil, fmt.Errorf("project %s already exists with home %s",
			name, p.HomePath())
	}
	p, err := project.CreateFromConfigFile(name, home, s.deps())
	if err != nil {
		return nil, err
	}
	s.projects[name] = p
	return p, nil
}

// DeleteProject drops a project and removes its database.
func (s *Server) DeleteProject(name string) error {
	p, ok := s.projects[name]
	if !ok {
		// not live; remove the on-disk database if present
		dbPath := filepath.Join(s.cfg.DataDir, name+".ldb")
		if _, err := os.Stat(dbPath); err != nil {
			return errors.New("not found")
		}
		return os.RemoveAll(dbPath)
	}
	delete(s.projects, name)
	return p.Destroy()
}

// Projects returns the live project set.
func (s *Server) Projects() map[string]*project.Project {
	return s.projects
}

// demux routes a watch event to the owning project. Runs on the main loop.
func (s *Server) demux(ev watcher.Event) {
	if ev.Name != "" && !ev.IsDir {
		// the configuration file passes the extension filter so edits can
		// force a resync
		if !parser.IsSourceExtension(filepath.Ext(ev.Name)) && ev.Name != "CMakeLists.txt" {
			return
		}
		if s.cfg.IsFileExcluded(filepath.Join(ev.Dir, ev.Name)) {
			slog.Info("file ignored", "path", ev.Name)
			return
		}
	}

	for _, p := range s.projects {
		if p.IsWatchIDInList(ev.WatchID) {
			p.HandleWatchEvent(ev)
			return
		}
	}
	slog.Debug("no project for watch", "watch_id", ev.WatchID, "dir", ev.Dir)
}
