package mapping

import (
	"context"
	"log/slog"
	"slices"

	"github.com/gmaffy/encode-map/encode"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// fetchAll fetches every uri concurrently and returns the results in input order.
func fetchAll[T any](ctx context.Context, limit int, uris []string, fetch func(context.Context, string) (T, error)) ([]T, error) {
	results := make([]T, len(uris))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, uri := range uris {
		i, uri := i, uri
		g.Go(func() error {
			v, err := fetch(ctx, uri)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// mappable reports whether f is a raw reads file in a state and format we map.
func mappable(f *encode.File) bool {
	return f.OutputType == "reads" && slices.Contains(FormatsToMap, f.FileFormat)
}

// FilesToMap returns the experiment's original files that should be mapped.
// Duplicate submitted file names are kept with a warning, or dropped when
// NoSfnDupes is set.
func (r *Runner) FilesToMap(ctx context.Context, exp *encode.Experiment) ([]*encode.File, error) {
	if exp == nil || (len(exp.Files) == 0 && len(exp.OriginalFiles) == 0) {
		accession := ""
		if exp != nil {
			accession = exp.Accession
		}
		slog.Warn("Experiment has no files", "experiment", accession)
		return nil, nil
	}

	fileObjs, err := fetchAll(ctx, r.opts.FetchConcurrency, exp.OriginalFiles, r.portal.GetFile)
	if err != nil {
		return nil, err
	}

	var files []*encode.File
	for _, f := range fileObjs {
		switch {
		case mappable(f) && slices.Contains(StatusesToMap, f.Status) && f.Replicate != "":
			dupe := lo.ContainsBy(files, func(seen *encode.File) bool {
				return seen.SubmittedFileName == f.SubmittedFileName
			})
			if !dupe {
				files = append(files, f)
			} else if r.opts.NoSfnDupes {
				slog.Error(exp.Accession + ":" + f.Accession + " Duplicate submitted_file_name found, skipping that file.")
			} else {
				slog.Warn(exp.Accession + ":" + f.Accession + " Duplicate submitted_file_name found, but allowing duplicates.")
				files = append(files, f)
			}
		case mappable(f) && f.Replicate == "":
			slog.Error(f.Accession + ": Reads file has no replicate")
		}
	}
	return files, nil
}

// ReplicatesToMap returns the distinct replicates the files belong to,
// restricted to the given biological replicate numbers when any are given.
func (r *Runner) ReplicatesToMap(ctx context.Context, files []*encode.File, bioreps []int) ([]*encode.Replicate, error) {
	if len(files) == 0 {
		return nil, nil
	}
	uris := lo.Map(files, func(f *encode.File, _ int) string { return f.Replicate })
	reps, err := fetchAll(ctx, r.opts.FetchConcurrency, uris, func(ctx context.Context, uri string) (*encode.Replicate, error) {
		return r.portal.GetReplicate(ctx, uri, encode.FrameObject)
	})
	if err != nil {
		return nil, err
	}

	reps = lo.UniqBy(reps, func(rep *encode.Replicate) string { return rep.ID })
	if len(bioreps) == 0 {
		return reps, nil
	}
	return lo.Filter(reps, func(rep *encode.Replicate, _ int) bool {
		return slices.Contains(bioreps, rep.BiologicalReplicate)
	}), nil
}
