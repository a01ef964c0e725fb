package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gmaffy/encode-map/mapping"
	"github.com/gmaffy/encode-map/utils"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMapOnlyFlags returns a fresh mapOnly flag set plus the persistent
// debug flag it reads.
func newMapOnlyFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("mapOnly", pflag.ContinueOnError)
	addMapOnlyFlags(flags)
	flags.Bool("debug", false, "")
	return flags
}

func TestMapOnlyOptionsFlagsWinOverConfig(t *testing.T) {
	flags := newMapOnlyFlags()
	require.NoError(t, flags.Parse([]string{"--assembly", "mm10", "--raw", "--force_se", "--tag", "v2"}))

	cfg := utils.Config{
		Assembly:      "GRCh38",
		OutputProject: "ENCODE Output",
		OutputFolder:  "/mapping",
		Applets:       mapping.AppletNames{Mapping: "encode_bwa_v2"},
		References:    []mapping.Reference{{Assembly: "dm6", Organism: "fly", Sex: "male", File: "Refs:/dm6.tar.gz"}},
	}
	opts, err := mapOnlyOptions(flags, cfg)
	require.NoError(t, err)

	assert.Equal(t, "mm10", opts.Assembly)
	assert.Equal(t, "ENCODE Output", opts.OutputProject)
	assert.Equal(t, "/mapping", opts.OutputFolder)
	assert.Equal(t, "default", opts.Key)
	assert.Equal(t, "v2", opts.Tag)
	assert.True(t, opts.Raw)
	assert.True(t, opts.ForceSE)
	assert.False(t, opts.Yes)
	assert.Equal(t, "encode_bwa_v2", opts.Applets.Mapping)
	assert.Equal(t, "Refs:/dm6.tar.gz", mapping.FindReference(opts.References, "fly", "male", "dm6"))
}

func TestMapOnlyOptionsDefaults(t *testing.T) {
	flags := newMapOnlyFlags()
	require.NoError(t, flags.Parse(nil))

	opts, err := mapOnlyOptions(flags, utils.Config{})
	require.NoError(t, err)
	assert.Empty(t, opts.Assembly)
	assert.Equal(t, "/", opts.OutputFolder)
	assert.Empty(t, opts.OutputProject)
	assert.Len(t, opts.References, len(mapping.DefaultReferences))
}

func TestReadRecordsFromStdin(t *testing.T) {
	mapOnlyCmd.SetIn(strings.NewReader("ENCSR000AAA,1\n#skip\nENCSR000BBB\n"))
	defer mapOnlyCmd.SetIn(nil)

	records, err := readRecords(mapOnlyCmd, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []int{1}, records[0].Bioreps)

	records, err = readRecords(mapOnlyCmd, []string{"ENCSR000CCC,2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ENCSR000CCC", records[0].Experiment)
}

func TestReferencesCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"references"})
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(mapping.DefaultReferences)+1)
	assert.True(t, strings.HasPrefix(lines[0], "ASSEMBLY"))
	assert.Contains(t, out.String(), "GRCh38_minimal_XY.tar.gz")
}
