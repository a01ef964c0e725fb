package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gmaffy/encode-map/dnanexus"
	"github.com/gmaffy/encode-map/dnanexus/dxtest"
	"github.com/gmaffy/encode-map/encode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePortal serves ENCODE objects by path and records PATCH bodies. Like the
// real portal, a bare accession answers with a redirect to the object's @id.
type fakePortal struct {
	*httptest.Server
	mu          sync.Mutex
	objects     map[string]any
	redirects   map[string]string
	patches     map[string]map[string]any
	patchStatus int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		objects:   make(map[string]any),
		redirects: make(map[string]string),
		patches:   make(map[string]map[string]any),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if target, ok := p.redirects[r.URL.Path]; ok {
			http.Redirect(w, r, target+"?"+r.URL.RawQuery, http.StatusMovedPermanently)
			return
		}
		obj, ok := p.objects[strings.TrimSuffix(r.URL.Path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPatch {
			if p.patchStatus != 0 {
				w.WriteHeader(p.patchStatus)
				w.Write([]byte(`{"status":"error","description":"Failed validation"}`))
				return
			}
			var body map[string]any
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			p.patches[r.URL.Path] = body
			w.Write([]byte(`{"status":"success"}`))
			return
		}
		json.NewEncoder(w).Encode(obj)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *fakePortal) add(path string, obj map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj["@id"] = path + "/"
	p.objects[path] = obj
	p.redirects["/"+filepath.Base(path)] = path + "/"
}

func (p *fakePortal) client(t *testing.T) *encode.Client {
	c, err := encode.NewClient(encode.Keypair{Key: "id", Secret: "pw", Server: p.URL + "/"})
	require.NoError(t, err)
	return c
}

func readsFile(acc, rep, pairedEnd, pairedWith, sfn string) map[string]any {
	f := map[string]any{
		"accession":           acc,
		"status":              "released",
		"output_type":         "reads",
		"file_format":         "fastq",
		"replicate":           rep,
		"submitted_file_name": sfn,
	}
	if pairedEnd != "" {
		f["paired_end"] = pairedEnd
	}
	if pairedWith != "" {
		f["paired_with"] = pairedWith
	}
	return f
}

func replicate(n int, sex string) map[string]any {
	return map[string]any{
		"uuid":                        "uuid-rep" + string(rune('0'+n)),
		"biological_replicate_number": n,
		"technical_replicate_number":  1,
		"library": map[string]any{
			"biosample": map[string]any{"sex": sex, "organism": "/organisms/human/"},
		},
	}
}

// seedExperiment has a paired-end rep 1, a single-end rep 2, and files that must be ignored.
func seedExperiment(p *fakePortal) {
	p.add("/organisms/human", map[string]any{"name": "human"})
	p.add("/replicates/r1", replicate(1, "female"))
	p.add("/replicates/r2", replicate(2, "male"))
	p.add("/files/ENCFF001R1", readsFile("ENCFF001R1", "/replicates/r1/", "1", "/files/ENCFF001R2/", "a_R1.fastq.gz"))
	p.add("/files/ENCFF001R2", readsFile("ENCFF001R2", "/replicates/r1/", "2", "", "a_R2.fastq.gz"))
	p.add("/files/ENCFF002SE", readsFile("ENCFF002SE", "/replicates/r2/", "", "", "b.fastq.gz"))
	p.add("/files/ENCFF003BAM", map[string]any{"accession": "ENCFF003BAM", "status": "released", "output_type": "alignments", "file_format": "bam", "replicate": "/replicates/r1/"})
	p.add("/files/ENCFF004DEL", map[string]any{"accession": "ENCFF004DEL", "status": "deleted", "output_type": "reads", "file_format": "fastq", "replicate": "/replicates/r1/"})
	p.add("/files/ENCFF005NOREP", map[string]any{"accession": "ENCFF005NOREP", "status": "released", "output_type": "reads", "file_format": "fastq"})
	p.add("/experiments/ENCSR000AAA", map[string]any{
		"accession": "ENCSR000AAA",
		"original_files": []string{
			"/files/ENCFF001R1/", "/files/ENCFF001R2/", "/files/ENCFF002SE/",
			"/files/ENCFF003BAM/", "/files/ENCFF004DEL/", "/files/ENCFF005NOREP/",
		},
		"replicates": []string{"/replicates/r1/", "/replicates/r2/"},
	})
}

type platform struct {
	srv           *dxtest.Server
	outputProject string
	appletProject string
}

func newPlatform(t *testing.T) *platform {
	srv := dxtest.NewServer(t)
	p := &platform{
		srv:           srv,
		outputProject: srv.AddProject("ENCODE Output", dnanexus.LevelContribute),
		appletProject: srv.AddProject("ENCODE Applets", dnanexus.LevelView),
	}
	for _, name := range []string{InputShieldApplet, MappingApplet, FilterQCApplet, XcorApplet} {
		srv.AddApplet(p.appletProject, name)
	}
	return p
}

func newTestRunner(t *testing.T, portal *fakePortal, plat *platform, opts Options, out io.Writer) *Runner {
	opts.OutputProject = "ENCODE Output"
	opts.AppletProject = "ENCODE Applets"
	if opts.Assembly == "" {
		opts.Assembly = "GRCh38"
	}
	return NewRunner(portal.client(t), dnanexus.NewClient(plat.srv.Config("")), opts, out)
}

func TestFilesToMap(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	portal.add("/files/ENCFF006DUP", readsFile("ENCFF006DUP", "/replicates/r2/", "", "", "b.fastq.gz"))
	r := newTestRunner(t, portal, newPlatform(t), Options{}, io.Discard)
	ctx := context.Background()

	exp, err := r.portal.GetExperiment(ctx, "ENCSR000AAA")
	require.NoError(t, err)
	exp.OriginalFiles = append(exp.OriginalFiles, "/files/ENCFF006DUP/")

	files, err := r.FilesToMap(ctx, exp)
	require.NoError(t, err)
	assert.Equal(t, []string{"ENCFF001R1", "ENCFF001R2", "ENCFF002SE", "ENCFF006DUP"}, accessions(files))

	r.opts.NoSfnDupes = true
	files, err = r.FilesToMap(ctx, exp)
	require.NoError(t, err)
	assert.Equal(t, []string{"ENCFF001R1", "ENCFF001R2", "ENCFF002SE"}, accessions(files))

	files, err = r.FilesToMap(ctx, &encode.Experiment{Accession: "ENCSR000EMPTY"})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReplicatesToMap(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	r := newTestRunner(t, portal, newPlatform(t), Options{}, io.Discard)
	ctx := context.Background()

	exp, err := r.portal.GetExperiment(ctx, "ENCSR000AAA")
	require.NoError(t, err)
	files, err := r.FilesToMap(ctx, exp)
	require.NoError(t, err)

	reps, err := r.ReplicatesToMap(ctx, files, nil)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, 1, reps[0].BiologicalReplicate)
	assert.Equal(t, 2, reps[1].BiologicalReplicate)

	reps, err = r.ReplicatesToMap(ctx, files, []int{2})
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, 2, reps[0].BiologicalReplicate)
}

func TestChooseReference(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	portal.add("/replicates/r3", replicate(3, "unknown"))
	ctx := context.Background()

	r := newTestRunner(t, portal, newPlatform(t), Options{Assembly: "GRCh38-minimal"}, io.Discard)
	exp, err := r.portal.GetExperiment(ctx, "ENCSR000AAA")
	require.NoError(t, err)
	exp.Replicates = append(exp.Replicates, "/replicates/r3/")

	ref, err := r.ChooseReference(ctx, exp, 1)
	require.NoError(t, err)
	assert.Equal(t, "ENCODE Reference Files:/GRCh38/GRCh38_minimal_XY.tar.gz", ref, "not sex specific maps to male")

	r.opts.SexSpecific = true
	ref, err = r.ChooseReference(ctx, exp, 1)
	require.NoError(t, err)
	assert.Equal(t, "ENCODE Reference Files:/GRCh38/GRCh38_minimal_X.tar.gz", ref)

	ref, err = r.ChooseReference(ctx, exp, 3)
	require.NoError(t, err)
	assert.Equal(t, "ENCODE Reference Files:/GRCh38/GRCh38_minimal_XY.tar.gz", ref, "unknown sex falls back to male")

	_, err = r.ChooseReference(ctx, exp, 9)
	assert.Error(t, err)

	r.opts.Assembly = "dm6"
	ref, err = r.ChooseReference(ctx, exp, 1)
	require.NoError(t, err)
	assert.Empty(t, ref)
}

func TestExperimentBuildsAndLaunchesWorkflows(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	plat := newPlatform(t)
	var out bytes.Buffer
	r := newTestRunner(t, portal, plat, Options{Yes: true, OutputFolder: "/mapping", Tag: "test"}, &out)

	require.NoError(t, r.Run(context.Background(), []Record{{Experiment: "ENCSR000AAA"}}))

	wfs := plat.srv.Workflows()
	require.Len(t, wfs, 2)

	pe := wfs[0]
	assert.Equal(t, "Map ENCSR000AAA rep1 to GRCh38 and filter: test", pe.Title)
	assert.Equal(t, "ENCODE mapping pipeline", pe.Name)
	assert.Equal(t, "/mapping/workflows/ENCSR000AAA/rep1", pe.Folder)
	require.Len(t, pe.Stages, 4)
	assert.Equal(t, "Gather inputs ENCSR000AAA rep1", pe.Stages[0].Name)
	assert.Equal(t, "/mapping/fastqs/ENCSR000AAA/rep1", pe.Stages[0].Folder)
	assert.Equal(t, []any{"ENCFF001R1"}, pe.Stages[0].Input["reads1"])
	assert.Equal(t, []any{"ENCFF001R2"}, pe.Stages[0].Input["reads2"])
	assert.Equal(t, "ENCODE Reference Files:/GRCh38/GCA_000001405.15_GRCh38_no_alt_analysis_set.bwa.tar.gz", pe.Stages[0].Input["reference_tar"])
	assert.Equal(t, "default", pe.Stages[0].Input["key"])
	assert.Equal(t, false, pe.Stages[0].Input["debug"])
	assert.Equal(t, "Map ENCSR000AAA rep1", pe.Stages[1].Name)
	assert.Equal(t, "/mapping/raw_bams/ENCSR000AAA/rep1", pe.Stages[1].Folder)
	assert.Equal(t, "Filter and QC ENCSR000AAA rep1", pe.Stages[2].Name)
	assert.Equal(t, "/mapping/bams/ENCSR000AAA/rep1", pe.Stages[2].Folder)
	assert.Equal(t, "Calculate cross-correlation ENCSR000AAA rep1", pe.Stages[3].Name)

	link := pe.Stages[3].Input["input_bam"].(map[string]any)["$dnanexus_link"].(map[string]any)
	assert.Equal(t, pe.Stages[2].ID, link["stage"])
	assert.Equal(t, "filtered_bam", link["outputField"])

	se := wfs[1]
	assert.Equal(t, []any{"ENCFF002SE"}, se.Stages[0].Input["reads1"])
	assert.NotContains(t, se.Stages[0].Input, "reads2")

	runs := plat.srv.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "high", runs[0].Request["priority"])
	assert.NotContains(t, runs[0].Request, "debug")

	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	assert.Equal(t, []string{
		"ENCSR000AAA",
		"3",
		"[ENCFF001R1, ENCFF001R2, ENCFF002SE]",
		"rep1",
		"paired:[(ENCFF001R2, ENCFF001R1)]",
		"paired jobs:[" + runs[0].Analysis + "]",
		"unpaired:None",
		"rep2",
		"paired:None",
		"unpaired:[ENCFF002SE]",
		"unpaired jobs:[" + runs[1].Analysis + "]",
	}, fields)

	portal.mu.Lock()
	assert.Equal(t, "processing", portal.patches["/experiments/ENCSR000AAA/"]["internal_status"])
	portal.mu.Unlock()

	rows := r.Report().Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "paired", rows[0].Reads)
	assert.Equal(t, pe.ID, rows[0].Workflow)
	assert.Equal(t, runs[0].Analysis, rows[0].Analyses)
}

func TestExperimentRawWithoutLaunch(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	plat := newPlatform(t)
	var out bytes.Buffer
	r := newTestRunner(t, portal, plat, Options{Raw: true, Assembly: "hg19"}, &out)

	require.NoError(t, r.Experiment(context.Background(), Record{Experiment: "ENCSR000AAA", Bioreps: []int{2}}))

	wfs := plat.srv.Workflows()
	require.Len(t, wfs, 1)
	assert.Equal(t, "Map ENCSR000AAA rep2 to hg19 (no filter)", wfs[0].Title)
	assert.Equal(t, "ENCODE raw mapping pipeline", wfs[0].Name)
	require.Len(t, wfs[0].Stages, 2)
	assert.Equal(t, "ENCODE Reference Files:/hg19/male.hg19.tar.gz", wfs[0].Stages[0].Input["reference_tar"])
	assert.Empty(t, plat.srv.Runs())

	line := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(line, "ENCSR000AAA\t3\t"))
	assert.True(t, strings.HasSuffix(line, "rep2\tpaired:None\tunpaired:None"), line)
	assert.True(t, plat.srv.HasFolder(plat.outputProject, "/raw_bams/ENCSR000AAA/rep2"))
	assert.False(t, plat.srv.HasFolder(plat.outputProject, "/bams/ENCSR000AAA/rep2"))
}

func TestExperimentReadOnlyOutputProject(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	plat := newPlatform(t)
	r := NewRunner(portal.client(t), dnanexus.NewClient(plat.srv.Config("")), Options{
		Assembly:      "GRCh38",
		OutputProject: "ENCODE Applets",
		AppletProject: "ENCODE Applets",
	}, io.Discard)

	err := r.Experiment(context.Background(), Record{Experiment: "ENCSR000AAA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
	assert.Empty(t, plat.srv.Workflows())
}

func TestExperimentForceSE(t *testing.T) {
	portal := newFakePortal(t)
	seedExperiment(portal)
	plat := newPlatform(t)
	r := newTestRunner(t, portal, plat, Options{ForceSE: true}, io.Discard)

	require.NoError(t, r.Experiment(context.Background(), Record{Experiment: "ENCSR000AAA", Bioreps: []int{1}}))

	wfs := plat.srv.Workflows()
	require.Len(t, wfs, 1)
	assert.Equal(t, []any{"ENCFF001R1"}, wfs[0].Stages[0].Input["reads1"])
	assert.NotContains(t, wfs[0].Stages[0].Input, "reads2")
}

func TestExperimentNotFound(t *testing.T) {
	portal := newFakePortal(t)
	r := newTestRunner(t, portal, newPlatform(t), Options{}, io.Discard)
	err := r.Run(context.Background(), []Record{{Experiment: "ENCSR999ZZZ"}})
	assert.Error(t, err)
}

func TestExperimentUnmatchedPair(t *testing.T) {
	portal := newFakePortal(t)
	portal.patchStatus = http.StatusUnprocessableEntity
	portal.add("/organisms/human", map[string]any{"name": "human"})
	portal.add("/replicates/r1", replicate(1, "female"))
	portal.add("/files/ENCFF010R1", readsFile("ENCFF010R1", "/replicates/r1/", "1", "", "lonely_R1.fastq.gz"))
	portal.add("/experiments/ENCSR000BBB", map[string]any{
		"accession":      "ENCSR000BBB",
		"original_files": []string{"/files/ENCFF010R1/"},
		"replicates":     []string{"/replicates/r1/"},
	})
	plat := newPlatform(t)
	var out bytes.Buffer
	r := newTestRunner(t, portal, plat, Options{Yes: true}, &out)
	ctx := context.Background()

	exp, err := r.portal.GetExperiment(ctx, "ENCSR000BBB")
	require.NoError(t, err)
	files, err := r.FilesToMap(ctx, exp)
	require.NoError(t, err)
	g := PairFiles(files, false)
	assert.Equal(t, []string{"ENCFF010R1"}, accessions(g.Mateless))

	launch, err := r.MapPairedEnd(ctx, exp, 1, g.Paired)
	assert.ErrorIs(t, err, ErrUnmatchedPair)
	assert.Nil(t, launch)

	// The unmatched pair and the rejected PATCH are logged; the experiment still reports.
	require.NoError(t, r.Experiment(ctx, Record{Experiment: "ENCSR000BBB"}))
	assert.Empty(t, plat.srv.Workflows())
	assert.Empty(t, plat.srv.Runs())
	assert.Equal(t, "ENCSR000BBB\t1\t[ENCFF010R1]\trep1\tpaired:None\tunpaired:None", strings.TrimSpace(out.String()))

	portal.mu.Lock()
	assert.Empty(t, portal.patches)
	portal.mu.Unlock()
}

func TestReportWriteCSV(t *testing.T) {
	rep := &Report{}
	rep.add("ENCSR000AAA", 1, "paired", []string{"(A, B)"}, &Launch{
		Workflow: &dnanexus.Workflow{ID: "workflow-1"},
		Analyses: []*dnanexus.Analysis{{ID: "analysis-1"}},
	})
	rep.add("ENCSR000AAA", 2, "single", nil, nil)

	path := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, rep.WriteCSV(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Experiment,Replicate,Reads,Files,Workflow,Analyses", lines[0])
	assert.Contains(t, lines[1], "workflow-1")
	assert.Contains(t, lines[1], "analysis-1")
}
