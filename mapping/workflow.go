package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/gmaffy/encode-map/dnanexus"
	"github.com/gmaffy/encode-map/encode"
)

type appletKey struct {
	name    string
	project string
}

// WorkflowBuilder creates mapping workflows on the platform. Resolved
// projects, folders and applets are remembered across experiments.
type WorkflowBuilder struct {
	dx   *dnanexus.Client
	opts *Options

	projects map[string]*dnanexus.Project
	folders  map[string]bool
	applets  map[appletKey]*dnanexus.Applet
}

func NewWorkflowBuilder(dx *dnanexus.Client, opts *Options) *WorkflowBuilder {
	return &WorkflowBuilder{
		dx:       dx,
		opts:     opts,
		projects: make(map[string]*dnanexus.Project),
		folders:  make(map[string]bool),
		applets:  make(map[appletKey]*dnanexus.Applet),
	}
}

// ResolveProject finds a project by exact name, falling back to treating the
// identifier as a project ID. With write set, a VIEW-only project is rejected.
func (b *WorkflowBuilder) ResolveProject(ctx context.Context, identifier string, write bool) (*dnanexus.Project, error) {
	if identifier == "" {
		identifier = b.dx.Workspace()
	}
	if identifier == "" {
		return nil, fmt.Errorf("no project given and no project context set")
	}

	project, ok := b.projects[identifier]
	if !ok {
		var err error
		project, err = b.dx.FindOneProject(ctx, identifier, dnanexus.LevelView)
		if err != nil {
			return nil, err
		}
		if project == nil {
			if !strings.HasPrefix(identifier, "project-") && !strings.HasPrefix(identifier, "container-") {
				slog.Error("Could not find a unique project with name or id " + identifier)
				return nil, fmt.Errorf("project %q: %w", identifier, dnanexus.ErrNotFound)
			}
			project, err = b.dx.DescribeProject(ctx, identifier)
			if err != nil {
				slog.Error("Could not find a unique project with name or id " + identifier)
				return nil, fmt.Errorf("project %q: %w", identifier, err)
			}
		}
		b.projects[identifier] = project
	}

	slog.Debug("Project access level", "project", project.Name, "level", project.Level)
	if write && project.Level == dnanexus.LevelView {
		slog.Error("Output project " + identifier + " is read-only")
		return nil, fmt.Errorf("output project %q is read-only", identifier)
	}
	return project, nil
}

// ResolveFolder makes sure folder exists in the project, creating it and any
// parents when it cannot be listed.
func (b *WorkflowBuilder) ResolveFolder(ctx context.Context, project *dnanexus.Project, folder string) (string, error) {
	folder = path.Clean("/" + folder)
	key := project.ID + ":" + folder
	if b.folders[key] {
		return folder, nil
	}
	if _, err := b.dx.ListFolder(ctx, project.ID, folder); err != nil {
		if err := b.dx.NewFolder(ctx, project.ID, folder, true); err != nil {
			slog.Error("Cannot create folder", "folder", folder, "project", project.Name, "error", err)
			return "", fmt.Errorf("%s:%s: %w", project.Name, folder, err)
		}
		slog.Info("New folder created", "folder", folder, "project", project.Name)
	}
	b.folders[key] = true
	return folder, nil
}

// FindApplet looks up an applet by name in the project that holds the tools.
func (b *WorkflowBuilder) FindApplet(ctx context.Context, name, project string) (*dnanexus.Applet, error) {
	key := appletKey{name: name, project: project}
	applet, cached := b.applets[key]
	if !cached {
		var err error
		applet, err = b.dx.FindOneApplet(ctx, name, project)
		if err != nil {
			return nil, err
		}
		b.applets[key] = applet
	}
	slog.Info("Resolved applet", "name", name, "id", applet.ID, "cached", cached)
	return applet, nil
}

func (b *WorkflowBuilder) outputFolder(ctx context.Context, project *dnanexus.Project, kind string, exp *encode.Experiment, biorep int) (string, error) {
	return b.ResolveFolder(ctx, project, path.Join(b.opts.OutputFolder, kind, exp.Accession, fmt.Sprintf("rep%d", biorep)))
}

// Titles returns the workflow title and name for one replicate.
func (o *Options) Titles(accession string, biorep int) (title, name string) {
	if o.Raw {
		title = fmt.Sprintf("Map %s rep%d to %s (no filter)", accession, biorep, o.Assembly)
		name = "ENCODE raw mapping pipeline"
	} else {
		title = fmt.Sprintf("Map %s rep%d to %s and filter", accession, biorep, o.Assembly)
		name = "ENCODE mapping pipeline"
	}
	if o.Tag != "" {
		title += ": " + o.Tag
	}
	return title, name
}

// Build creates the workflow for one replicate: input shield, mapping and,
// unless raw, filter/QC and cross-correlation.
func (b *WorkflowBuilder) Build(ctx context.Context, exp *encode.Experiment, biorep int, shieldInput map[string]any) (*dnanexus.Workflow, error) {
	outputProject, err := b.ResolveProject(ctx, b.opts.OutputProject, true)
	if err != nil {
		return nil, err
	}
	slog.Debug("Found output project", "project", outputProject.Name)

	appletProject, err := b.ResolveProject(ctx, b.opts.AppletProject, false)
	if err != nil {
		return nil, err
	}
	slog.Debug("Found applet project", "project", appletProject.Name)

	mappingApplet, err := b.FindApplet(ctx, b.opts.Applets.Mapping, appletProject.ID)
	if err != nil {
		return nil, err
	}
	shieldApplet, err := b.FindApplet(ctx, b.opts.Applets.InputShield, appletProject.ID)
	if err != nil {
		return nil, err
	}

	workflowFolder, err := b.outputFolder(ctx, outputProject, "workflows", exp, biorep)
	if err != nil {
		return nil, err
	}
	fastqFolder, err := b.outputFolder(ctx, outputProject, "fastqs", exp, biorep)
	if err != nil {
		return nil, err
	}
	mappingFolder, err := b.outputFolder(ctx, outputProject, "raw_bams", exp, biorep)
	if err != nil {
		return nil, err
	}

	title, name := b.opts.Titles(exp.Accession, biorep)
	wf, err := b.dx.NewWorkflow(ctx, dnanexus.WorkflowSpec{
		Project: outputProject.ID,
		Folder:  workflowFolder,
		Name:    name,
		Title:   title,
	})
	if err != nil {
		return nil, err
	}

	shieldStage, err := wf.AddStage(ctx, dnanexus.StageSpec{
		Executable: shieldApplet.ID,
		Name:       fmt.Sprintf("Gather inputs %s rep%d", exp.Accession, biorep),
		Folder:     fastqFolder,
		Input:      shieldInput,
	})
	if err != nil {
		return nil, err
	}

	mappingStage, err := wf.AddStage(ctx, dnanexus.StageSpec{
		Executable: mappingApplet.ID,
		Name:       fmt.Sprintf("Map %s rep%d", exp.Accession, biorep),
		Folder:     mappingFolder,
		Input:      map[string]any{"input_JSON": dnanexus.Link(shieldStage, "output_JSON")},
	})
	if err != nil {
		return nil, err
	}

	if b.opts.Raw {
		return wf, nil
	}

	finalFolder, err := b.outputFolder(ctx, outputProject, "bams", exp, biorep)
	if err != nil {
		return nil, err
	}

	filterApplet, err := b.FindApplet(ctx, b.opts.Applets.FilterQC, appletProject.ID)
	if err != nil {
		return nil, err
	}
	filterStage, err := wf.AddStage(ctx, dnanexus.StageSpec{
		Executable: filterApplet.ID,
		Name:       fmt.Sprintf("Filter and QC %s rep%d", exp.Accession, biorep),
		Folder:     finalFolder,
		Input: map[string]any{
			"input_bam":  dnanexus.Link(mappingStage, "mapped_reads"),
			"paired_end": dnanexus.Link(mappingStage, "paired_end"),
		},
	})
	if err != nil {
		return nil, err
	}

	xcorApplet, err := b.FindApplet(ctx, b.opts.Applets.Xcor, appletProject.ID)
	if err != nil {
		return nil, err
	}
	_, err = wf.AddStage(ctx, dnanexus.StageSpec{
		Executable: xcorApplet.ID,
		Name:       fmt.Sprintf("Calculate cross-correlation %s rep%d", exp.Accession, biorep),
		Folder:     finalFolder,
		Input: map[string]any{
			"input_bam":  dnanexus.Link(filterStage, "filtered_bam"),
			"paired_end": dnanexus.Link(filterStage, "paired_end"),
		},
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}
