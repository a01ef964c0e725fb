package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/gmaffy/encode-map/dnanexus"
	"github.com/gmaffy/encode-map/encode"
	"github.com/samber/lo"
)

var ErrUnmatchedPair = errors.New("unmatched read pairs")

// Runner turns experiment records into mapping workflows.
type Runner struct {
	portal  *encode.Client
	builder *WorkflowBuilder
	opts    Options
	out     io.Writer
	report  *Report
}

// NewRunner writes one tab-separated summary line per experiment to out.
func NewRunner(portal *encode.Client, dx *dnanexus.Client, opts Options, out io.Writer) *Runner {
	opts.setDefaults()
	r := &Runner{
		portal: portal,
		opts:   opts,
		out:    out,
		report: &Report{},
	}
	r.builder = NewWorkflowBuilder(dx, &r.opts)
	return r
}

func (r *Runner) Report() *Report {
	return r.report
}

// Launch is a workflow built for one replicate and the analyses started from it.
type Launch struct {
	Workflow *dnanexus.Workflow
	Analyses []*dnanexus.Analysis
}

func (l *Launch) analysisIDs() []string {
	if l == nil {
		return nil
	}
	return lo.Map(l.Analyses, func(a *dnanexus.Analysis, _ int) string { return a.ID })
}

// MapSingleEnd builds one workflow mapping all the files as single-end reads.
func (r *Runner) MapSingleEnd(ctx context.Context, exp *encode.Experiment, biorep int, files []*encode.File) (*Launch, error) {
	if len(files) == 0 {
		slog.Debug(fmt.Sprintf("%s:%d No files to map", exp.Accession, biorep))
		return nil, nil
	}
	reads := map[string]any{
		"reads1": lo.Map(files, func(f *encode.File, _ int) string { return f.Accession }),
	}
	return r.mapOnly(ctx, exp, biorep, reads)
}

// MapPairedEnd builds one workflow mapping every pair. Read 1 and read 2 of
// pair i are at index i of reads1 and reads2.
func (r *Runner) MapPairedEnd(ctx context.Context, exp *encode.Experiment, biorep int, pairs []Pair) (*Launch, error) {
	if len(pairs) == 0 {
		slog.Debug(fmt.Sprintf("%s:%d No files to map", exp.Accession, biorep))
		return nil, nil
	}
	reads1 := make([]string, 0, len(pairs))
	reads2 := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		r1, r2 := pair.Read("1"), pair.Read("2")
		if r1 == nil || r2 == nil {
			slog.Error(fmt.Sprintf("%s rep %d: Unmatched read pairs", exp.Accession, biorep))
			return nil, fmt.Errorf("%s rep%d: %w", exp.Accession, biorep, ErrUnmatchedPair)
		}
		reads1 = append(reads1, r1.Accession)
		reads2 = append(reads2, r2.Accession)
	}
	return r.mapOnly(ctx, exp, biorep, map[string]any{"reads1": reads1, "reads2": reads2})
}

func (r *Runner) mapOnly(ctx context.Context, exp *encode.Experiment, biorep int, reads map[string]any) (*Launch, error) {
	reference, err := r.ChooseReference(ctx, exp, biorep)
	if err != nil {
		return nil, err
	}
	if reference == "" {
		slog.Warn(fmt.Sprintf("%s:%d Cannot determine reference", exp.Accession, biorep))
		return nil, nil
	}

	shieldInput := map[string]any{
		"reference_tar": reference,
		"debug":         r.opts.Debug,
		"key":           r.opts.Key,
	}
	for k, v := range reads {
		shieldInput[k] = v
	}

	wf, err := r.builder.Build(ctx, exp, biorep, shieldInput)
	if err != nil {
		return nil, err
	}
	launch := &Launch{Workflow: wf}
	if !r.opts.Yes {
		return launch, nil
	}

	runOpts := dnanexus.RunOptions{Priority: "high"}
	if r.opts.Debug {
		runOpts.DebugOn = []string{"AppInternalError", "AppError"}
		runOpts.DelayWorkspaceDestruction = true
		runOpts.AllowSSH = []string{"*"}
	}
	analysis, err := wf.Run(ctx, nil, runOpts)
	if err != nil {
		return launch, err
	}
	slog.Info("Launched workflow", "experiment", exp.Accession, "rep", biorep, "workflow", wf.ID, "analysis", analysis.ID)
	launch.Analyses = append(launch.Analyses, analysis)
	return launch, nil
}

// Run processes every record. A failing experiment is logged and the rest
// still run; the number of failed experiments is returned as an error.
func (r *Runner) Run(ctx context.Context, records []Record) error {
	failed := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Experiment(ctx, rec); err != nil {
			slog.Error("Experiment failed", "experiment", rec.Experiment, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(records))
	}
	return nil
}

// Experiment maps every selected replicate of one experiment and writes its summary line.
func (r *Runner) Experiment(ctx context.Context, rec Record) error {
	exp, err := r.portal.GetExperiment(ctx, rec.Experiment)
	if err != nil {
		return err
	}
	if exp.Accession == "" {
		exp.Accession = rec.Experiment
	}

	files, err := r.FilesToMap(ctx, exp)
	if err != nil {
		return err
	}
	replicates, err := r.ReplicatesToMap(ctx, files, rec.Bioreps)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		if len(replicates) == 0 {
			slog.Warn(exp.Accession + ": No files and no replicates")
		} else {
			slog.Warn(exp.Accession + ": No files to map")
		}
		return nil
	}

	out := []string{
		rec.Experiment,
		fmt.Sprint(len(files)),
		formatList(lo.Map(files, func(f *encode.File, _ int) string { return f.Accession })),
	}

	bioreps := lo.Uniq(lo.Map(replicates, func(rep *encode.Replicate, _ int) int { return rep.BiologicalReplicate }))
	slices.Sort(bioreps)

	inProcess := false
	var firstErr error
	for _, biorep := range bioreps {
		out = append(out, fmt.Sprintf("rep%d", biorep))

		var biorepFiles []*encode.File
		for _, f := range files {
			ns, err := r.portal.BiorepNumbers(ctx, f)
			if err != nil {
				return err
			}
			if slices.Contains(ns, biorep) {
				biorepFiles = append(biorepFiles, f)
			}
		}

		g := PairFiles(biorepFiles, r.opts.ForceSE)
		for _, f := range g.Mateless {
			slog.Warn(fmt.Sprintf("%s:%s could not find mate", exp.Accession, f.Accession))
		}
		if len(g.Leftover) > 0 {
			slog.Warn(fmt.Sprintf("%s: leftover file(s) %s", exp.Accession,
				formatList(lo.Map(g.Leftover, func(f *encode.File, _ int) string { return f.Accession }))))
		}

		var peLaunch, seLaunch *Launch
		if len(g.Paired) > 0 {
			peLaunch, err = r.MapPairedEnd(ctx, exp, biorep, g.Paired)
			// Unmatched pairs are already logged; the rest of the experiment still maps.
			if err != nil && !errors.Is(err, ErrUnmatchedPair) && firstErr == nil {
				firstErr = err
			}
			inProcess = true
		}
		if len(g.Unpaired) > 0 {
			seLaunch, err = r.MapSingleEnd(ctx, exp, biorep, g.Unpaired)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			inProcess = true
		}

		if len(g.Paired) > 0 && len(peLaunch.analysisIDs()) > 0 {
			out = append(out, "paired:"+formatPairs(g.Paired))
			out = append(out, "paired jobs:"+formatList(peLaunch.analysisIDs()))
		} else {
			out = append(out, "paired:None")
		}
		if len(g.Unpaired) > 0 && len(seLaunch.analysisIDs()) > 0 {
			out = append(out, "unpaired:"+formatList(lo.Map(g.Unpaired, func(f *encode.File, _ int) string { return f.Accession })))
			out = append(out, "unpaired jobs:"+formatList(seLaunch.analysisIDs()))
		} else {
			out = append(out, "unpaired:None")
		}

		r.report.add(exp.Accession, biorep, "paired", pairAccessions(g.Paired), peLaunch)
		r.report.add(exp.Accession, biorep, "single", lo.Map(g.Unpaired, func(f *encode.File, _ int) string { return f.Accession }), seLaunch)
	}

	if inProcess {
		target := exp.ID
		if target == "" {
			target = rec.Experiment
		}
		if err := r.portal.Patch(ctx, target, map[string]string{"internal_status": "processing"}); err != nil {
			slog.Error("Tried and failed to set internal_status", "experiment", exp.Accession, "error", err)
		}
	}
	fmt.Fprintln(r.out, strings.Join(out, "\t"))

	if len(replicates) == 0 {
		slog.Warn(exp.Accession + ": Files but no replicates")
	}
	return firstErr
}

func formatList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}

func pairAccessions(pairs []Pair) []string {
	return lo.Map(pairs, func(p Pair, _ int) string {
		return fmt.Sprintf("(%s, %s)", p.File, p.Mate)
	})
}

func formatPairs(pairs []Pair) string {
	return formatList(pairAccessions(pairs))
}
