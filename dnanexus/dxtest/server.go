// Package dxtest provides an in-memory DNAnexus API server for tests.
package dxtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/gmaffy/encode-map/dnanexus"
)

const Token = "dxtest-token"

type Project struct {
	ID      string
	Name    string
	Level   string
	Folders map[string]bool
	Applets map[string]string
}

type Stage struct {
	ID         string
	Executable string
	Name       string
	Folder     string
	Input      map[string]any
}

type Workflow struct {
	ID          string
	Project     string
	Folder      string
	Name        string
	Title       string
	Nonce       string
	EditVersion int
	Stages      []Stage
}

type Run struct {
	Workflow string
	Analysis string
	Request  map[string]any
}

// Server fakes the subset of the API used to build and run workflows.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	seq       int
	projects  map[string]*Project
	workflows map[string]*Workflow
	order     []string
	runs      []Run
	routes    []string
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		projects:  make(map[string]*Project),
		workflows: make(map[string]*Workflow),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Config returns a client config pointed at the fake with the given workspace.
func (s *Server) Config(workspace string) dnanexus.Config {
	return dnanexus.Config{APIServer: s.URL, Token: Token, Workspace: workspace}
}

func (s *Server) nextID(class string) string {
	s.seq++
	return fmt.Sprintf("%s-%024d", class, s.seq)
}

func (s *Server) AddProject(name, level string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("project")
	s.projects[id] = &Project{
		ID:      id,
		Name:    name,
		Level:   level,
		Folders: map[string]bool{"/": true},
		Applets: make(map[string]string),
	}
	return id
}

func (s *Server) AddApplet(project, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("applet")
	s.projects[project].Applets[name] = id
	return id
}

func (s *Server) HasFolder(project, folder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[project]
	return ok && p.Folders[folder]
}

// Workflows returns the created workflows in creation order.
func (s *Server) Workflows() []Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Workflow, 0, len(s.order))
	for _, id := range s.order {
		wf := *s.workflows[id]
		wf.Stages = append([]Stage(nil), wf.Stages...)
		out = append(out, wf)
	}
	return out
}

func (s *Server) Runs() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Run(nil), s.runs...)
}

// Routes returns every route called so far.
func (s *Server) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.routes...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"type": typ, "message": msg}})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "InvalidInput", "POST only")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeError(w, http.StatusUnauthorized, "InvalidAuthentication", "bad token")
		return
	}
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, r.URL.Path)

	switch r.URL.Path {
	case "/system/findProjects":
		s.findProjects(w, req)
		return
	case "/system/findDataObjects":
		s.findDataObjects(w, req)
		return
	case "/workflow/new":
		s.newWorkflow(w, req)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", r.URL.Path)
		return
	}
	id, method := parts[0], parts[1]
	switch {
	case strings.HasPrefix(id, "project-"):
		p, ok := s.projects[id]
		if !ok {
			writeError(w, http.StatusNotFound, "ResourceNotFound", "no project "+id)
			return
		}
		s.projectMethod(w, p, method, req)
	case strings.HasPrefix(id, "workflow-"):
		wf, ok := s.workflows[id]
		if !ok {
			writeError(w, http.StatusNotFound, "ResourceNotFound", "no workflow "+id)
			return
		}
		s.workflowMethod(w, wf, method, req)
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", r.URL.Path)
	}
}

var levels = map[string]int{"VIEW": 1, "UPLOAD": 2, "CONTRIBUTE": 3, "ADMINISTER": 4}

func (s *Server) findProjects(w http.ResponseWriter, req map[string]any) {
	name, _ := req["name"].(string)
	level, _ := req["level"].(string)
	var results []map[string]any
	for _, p := range s.projects {
		if p.Name != name || levels[p.Level] < levels[level] {
			continue
		}
		results = append(results, map[string]any{
			"id":       p.ID,
			"level":    p.Level,
			"describe": map[string]string{"name": p.Name, "level": p.Level},
		})
	}
	writeJSON(w, map[string]any{"results": results, "next": nil})
}

func (s *Server) findDataObjects(w http.ResponseWriter, req map[string]any) {
	name, _ := req["name"].(string)
	scope, _ := req["scope"].(map[string]any)
	project, _ := scope["project"].(string)
	var results []map[string]string
	if p, ok := s.projects[project]; ok {
		if id, ok := p.Applets[name]; ok {
			results = append(results, map[string]string{"project": project, "id": id})
		}
	}
	writeJSON(w, map[string]any{"results": results, "next": nil})
}

func (s *Server) newWorkflow(w http.ResponseWriter, req map[string]any) {
	project, _ := req["project"].(string)
	p, ok := s.projects[project]
	if !ok {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "no project "+project)
		return
	}
	if p.Level == "VIEW" {
		writeError(w, http.StatusUnauthorized, "PermissionDenied", "VIEW access only")
		return
	}
	wf := &Workflow{ID: s.nextID("workflow"), Project: project}
	wf.Folder, _ = req["folder"].(string)
	wf.Name, _ = req["name"].(string)
	wf.Title, _ = req["title"].(string)
	wf.Nonce, _ = req["nonce"].(string)
	s.workflows[wf.ID] = wf
	s.order = append(s.order, wf.ID)
	writeJSON(w, map[string]string{"id": wf.ID})
}

func (s *Server) projectMethod(w http.ResponseWriter, p *Project, method string, req map[string]any) {
	folder, _ := req["folder"].(string)
	switch method {
	case "describe":
		writeJSON(w, map[string]string{"id": p.ID, "name": p.Name, "level": p.Level})
	case "listFolder":
		if !p.Folders[folder] {
			writeError(w, http.StatusNotFound, "ResourceNotFound", "The specified folder could not be found in "+p.ID)
			return
		}
		var sub []string
		for f := range p.Folders {
			if f != folder && path.Dir(f) == folder {
				sub = append(sub, f)
			}
		}
		writeJSON(w, map[string]any{"folders": sub, "objects": []any{}})
	case "newFolder":
		if p.Level == "VIEW" {
			writeError(w, http.StatusUnauthorized, "PermissionDenied", "VIEW access only")
			return
		}
		parents, _ := req["parents"].(bool)
		if !parents && !p.Folders[path.Dir(folder)] {
			writeError(w, http.StatusNotFound, "ResourceNotFound", "parent folder missing")
			return
		}
		for f := folder; f != "/" && f != "."; f = path.Dir(f) {
			p.Folders[f] = true
		}
		writeJSON(w, map[string]string{"id": p.ID})
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", method)
	}
}

func (s *Server) workflowMethod(w http.ResponseWriter, wf *Workflow, method string, req map[string]any) {
	switch method {
	case "addStage":
		version, _ := req["editVersion"].(float64)
		if int(version) != wf.EditVersion {
			writeError(w, http.StatusUnprocessableEntity, "InvalidState", "editVersion mismatch")
			return
		}
		st := Stage{ID: s.nextID("stage")}
		st.Executable, _ = req["executable"].(string)
		st.Name, _ = req["name"].(string)
		st.Folder, _ = req["folder"].(string)
		st.Input, _ = req["input"].(map[string]any)
		wf.Stages = append(wf.Stages, st)
		wf.EditVersion++
		writeJSON(w, map[string]any{"id": wf.ID, "stage": st.ID, "editVersion": wf.EditVersion})
	case "run":
		analysis := s.nextID("analysis")
		s.runs = append(s.runs, Run{Workflow: wf.ID, Analysis: analysis, Request: req})
		stages := make([]string, 0, len(wf.Stages))
		for _, st := range wf.Stages {
			stages = append(stages, st.ID)
		}
		writeJSON(w, map[string]any{"id": analysis, "stages": stages})
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", method)
	}
}
