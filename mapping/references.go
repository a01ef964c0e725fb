package mapping

// Reference is a bwa index tarball for one assembly/organism/sex.
type Reference struct {
	Assembly string `yaml:"assembly"`
	Organism string `yaml:"organism"`
	Sex      string `yaml:"sex"`
	File     string `yaml:"file"`
}

// DefaultReferences are the reference tarballs in the ENCODE reference projects.
// GRCh38 and GRCh38-full are not sex-specific yet; both sexes map to the same index.
var DefaultReferences = []Reference{
	{Assembly: "GRCh38-minimal", Organism: "human", Sex: "male", File: "ENCODE Reference Files:/GRCh38/GRCh38_minimal_XY.tar.gz"},
	{Assembly: "GRCh38-minimal", Organism: "human", Sex: "female", File: "ENCODE Reference Files:/GRCh38/GRCh38_minimal_X.tar.gz"},
	{Assembly: "GRCh38", Organism: "human", Sex: "male", File: "ENCODE Reference Files:/GRCh38/GCA_000001405.15_GRCh38_no_alt_analysis_set.bwa.tar.gz"},
	{Assembly: "GRCh38", Organism: "human", Sex: "female", File: "ENCODE Reference Files:/GRCh38/GCA_000001405.15_GRCh38_no_alt_analysis_set.bwa.tar.gz"},
	{Assembly: "GRCh38-full", Organism: "human", Sex: "male", File: "E3 ChIP-seq:/reference_files_local/GCA_000001405.15_GRCh38_full_analysis_set.bwa.tar.gz"},
	{Assembly: "GRCh38-full", Organism: "human", Sex: "female", File: "E3 ChIP-seq:/reference_files_local/GCA_000001405.15_GRCh38_full_analysis_set.bwa.tar.gz"},
	{Assembly: "mm10-minimal", Organism: "mouse", Sex: "male", File: "ENCODE Reference Files:/mm10/male.mm10.tar.gz"},
	{Assembly: "mm10-minimal", Organism: "mouse", Sex: "female", File: "ENCODE Reference Files:/mm10/female.mm10.tar.gz"},
	{Assembly: "mm10", Organism: "mouse", Sex: "male", File: "ENCODE Reference Files:/mm10/mm10_no_alt_analysis_set_ENCODE.tar.gz"},
	{Assembly: "hg19", Organism: "human", Sex: "male", File: "ENCODE Reference Files:/hg19/male.hg19.tar.gz"},
	{Assembly: "hg19", Organism: "human", Sex: "female", File: "ENCODE Reference Files:/hg19/female.hg19.tar.gz"},
}

// FindReference returns the first matching reference file, or "".
func FindReference(refs []Reference, organism, sex, assembly string) string {
	for _, ref := range refs {
		if ref.Organism == organism && ref.Sex == sex && ref.Assembly == assembly {
			return ref.File
		}
	}
	return ""
}

// MergeReferences returns base with entries in overrides replacing any base
// entry with the same assembly, organism and sex. New combinations are appended.
func MergeReferences(base, overrides []Reference) []Reference {
	merged := append([]Reference(nil), base...)
	for _, o := range overrides {
		replaced := false
		for i, ref := range merged {
			if ref.Assembly == o.Assembly && ref.Organism == o.Organism && ref.Sex == o.Sex {
				merged[i] = o
				replaced = true
			}
		}
		if !replaced {
			merged = append(merged, o)
		}
	}
	return merged
}
