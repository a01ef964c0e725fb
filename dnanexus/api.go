package dnanexus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Access levels, lowest first.
const (
	LevelView       = "VIEW"
	LevelUpload     = "UPLOAD"
	LevelContribute = "CONTRIBUTE"
	LevelAdminister = "ADMINISTER"
)

var ErrNotFound = errors.New("not found")

type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level"`
}

type Applet struct {
	ID      string
	Name    string
	Project string
}

// Link is a $dnanexus_link to the output field of another workflow stage.
func Link(stage, outputField string) map[string]any {
	return map[string]any{
		"$dnanexus_link": map[string]string{
			"stage":       stage,
			"outputField": outputField,
		},
	}
}

// FindOneProject looks up a project by exact name with at least the given
// access level. It returns nil, nil when there is no such project.
func (c *Client) FindOneProject(ctx context.Context, name, level string) (*Project, error) {
	req := map[string]any{
		"name":     name,
		"level":    level,
		"describe": map[string]any{"fields": map[string]bool{"name": true, "level": true}},
		"limit":    2,
	}
	var resp struct {
		Results []struct {
			ID       string  `json:"id"`
			Level    string  `json:"level"`
			Describe Project `json:"describe"`
		} `json:"results"`
	}
	if err := c.call(ctx, "/system/findProjects", req, &resp); err != nil {
		return nil, err
	}
	switch len(resp.Results) {
	case 0:
		return nil, nil
	case 1:
		r := resp.Results[0]
		p := r.Describe
		p.ID = r.ID
		if p.Level == "" {
			p.Level = r.Level
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("more than one project named %q", name)
	}
}

func (c *Client) DescribeProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := c.call(ctx, "/"+id+"/describe", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListFolder returns the subfolders of folder, or a ResourceNotFound error
// when the folder does not exist.
func (c *Client) ListFolder(ctx context.Context, project, folder string) ([]string, error) {
	var resp struct {
		Folders []string `json:"folders"`
	}
	req := map[string]any{"folder": folder, "only": "folders"}
	if err := c.call(ctx, "/"+project+"/listFolder", req, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

func (c *Client) NewFolder(ctx context.Context, project, folder string, parents bool) error {
	req := map[string]any{"folder": folder, "parents": parents}
	return c.call(ctx, "/"+project+"/newFolder", req, nil)
}

// FindOneApplet requires exactly one applet with the name in the project.
func (c *Client) FindOneApplet(ctx context.Context, name, project string) (*Applet, error) {
	req := map[string]any{
		"class":      "applet",
		"name":       name,
		"scope":      map[string]any{"project": project},
		"visibility": "either",
		"limit":      2,
	}
	var resp struct {
		Results []struct {
			Project string `json:"project"`
			ID      string `json:"id"`
		} `json:"results"`
	}
	if err := c.call(ctx, "/system/findDataObjects", req, &resp); err != nil {
		return nil, err
	}
	switch len(resp.Results) {
	case 0:
		return nil, fmt.Errorf("applet %q in %s: %w", name, project, ErrNotFound)
	case 1:
		return &Applet{ID: resp.Results[0].ID, Name: name, Project: resp.Results[0].Project}, nil
	default:
		return nil, fmt.Errorf("more than one applet named %q in %s", name, project)
	}
}

// Workflow is a workflow under construction. Stage edits must carry the
// current edit version, which is tracked here.
type Workflow struct {
	ID      string
	Project string
	Name    string
	Title   string

	client      *Client
	editVersion int
	stages      []string
}

type WorkflowSpec struct {
	Project string
	Folder  string
	Name    string
	Title   string
}

func (c *Client) NewWorkflow(ctx context.Context, spec WorkflowSpec) (*Workflow, error) {
	req := map[string]any{
		"project": spec.Project,
		"folder":  spec.Folder,
		"name":    spec.Name,
		"title":   spec.Title,
		"parents": true,
		"nonce":   uuid.NewString(),
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "/workflow/new", req, &resp); err != nil {
		return nil, err
	}
	return &Workflow{
		ID:      resp.ID,
		Project: spec.Project,
		Name:    spec.Name,
		Title:   spec.Title,
		client:  c,
	}, nil
}

type StageSpec struct {
	Executable string
	Name       string
	Folder     string
	Input      map[string]any
}

// AddStage appends a stage and returns its ID.
func (w *Workflow) AddStage(ctx context.Context, spec StageSpec) (string, error) {
	req := map[string]any{
		"editVersion": w.editVersion,
		"executable":  spec.Executable,
		"name":        spec.Name,
		"folder":      spec.Folder,
		"input":       spec.Input,
	}
	var resp struct {
		Stage       string `json:"stage"`
		EditVersion int    `json:"editVersion"`
	}
	if err := w.client.call(ctx, "/"+w.ID+"/addStage", req, &resp); err != nil {
		return "", fmt.Errorf("adding stage %q to %s: %w", spec.Name, w.ID, err)
	}
	w.editVersion = resp.EditVersion
	w.stages = append(w.stages, resp.Stage)
	return resp.Stage, nil
}

// Stages returns the stage IDs in the order they were added.
func (w *Workflow) Stages() []string {
	return append([]string(nil), w.stages...)
}

type RunOptions struct {
	Priority string
	// DebugOn lists the error types that hold the job for debugging.
	DebugOn                   []string
	DelayWorkspaceDestruction bool
	AllowSSH                  []string
}

// Analysis is a launched workflow.
type Analysis struct {
	ID     string   `json:"id"`
	Stages []string `json:"stages"`
}

func (w *Workflow) Run(ctx context.Context, input map[string]any, opts RunOptions) (*Analysis, error) {
	if input == nil {
		input = map[string]any{}
	}
	req := map[string]any{
		"input":   input,
		"project": w.Project,
		"nonce":   uuid.NewString(),
	}
	if opts.Priority != "" {
		req["priority"] = opts.Priority
	}
	if len(opts.DebugOn) > 0 {
		req["debug"] = map[string]any{"debugOn": opts.DebugOn}
	}
	if opts.DelayWorkspaceDestruction {
		req["delayWorkspaceDestruction"] = true
	}
	if len(opts.AllowSSH) > 0 {
		req["allowSSH"] = opts.AllowSSH
	}
	var a Analysis
	if err := w.client.call(ctx, "/"+w.ID+"/run", req, &a); err != nil {
		return nil, fmt.Errorf("running %s: %w", w.ID, err)
	}
	return &a, nil
}
