package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gmaffy/encode-map/encode"
	"github.com/samber/lo"
)

// ChooseReference picks the reference tarball for one biological replicate
// from its organism and, when sex-specific mapping is on, the biosample sex.
// It returns "" when the table has no matching entry.
func (r *Runner) ChooseReference(ctx context.Context, exp *encode.Experiment, biorep int) (string, error) {
	replicates, err := fetchAll(ctx, r.opts.FetchConcurrency, exp.Replicates, func(ctx context.Context, uri string) (*encode.Replicate, error) {
		return r.portal.GetReplicate(ctx, uri, encode.FrameEmbedded)
	})
	if err != nil {
		return "", err
	}
	replicate, found := lo.Find(replicates, func(rep *encode.Replicate) bool {
		return rep.BiologicalReplicate == biorep
	})
	if !found {
		return "", fmt.Errorf("%s: no replicate with biological_replicate_number %d", exp.Accession, biorep)
	}
	slog.Debug("Replicate", "uuid", replicate.UUID)

	organism, sex, err := r.portal.Organism(ctx, replicate)
	if err != nil {
		slog.Error(fmt.Sprintf("%s:rep%d Cannot determine organism.", exp.Accession, biorep))
		return "", fmt.Errorf("%s:rep%d: %w", exp.Accession, biorep, err)
	}
	slog.Debug("Organism name " + organism)

	if r.opts.SexSpecific {
		if sex != "male" && sex != "female" {
			slog.Warn(fmt.Sprintf("%s:rep%d Sex is %s.  Mapping to male reference.", exp.Accession, biorep, sex))
			sex = "male"
		}
		slog.Debug("Organism sex", "organism", organism, "sex", sex)
	} else {
		sex = "male"
	}

	reference := FindReference(r.opts.References, organism, sex, r.opts.Assembly)
	slog.Debug("Found reference " + reference)
	return reference, nil
}
