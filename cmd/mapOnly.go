/*
Copyright © 2025 Godwin Mafireyi (mafireyi@gmail.com)
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gmaffy/encode-map/dnanexus"
	"github.com/gmaffy/encode-map/encode"
	"github.com/gmaffy/encode-map/mapping"
	"github.com/gmaffy/encode-map/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// mapOnlyCmd represents the mapOnly command
var mapOnlyCmd = &cobra.Command{
	Use:   "mapOnly [ENCSR[,biorep_i,biorep_j,...] ...]",
	Short: "Build (and optionally run) mapping workflows for ENCODE experiments",
	Long: `For every experiment accession, builds one DNAnexus workflow per biological
replicate and read type (paired-end, single-end):

1. input_shield  gathers the fastqs from the portal
2. encode_bwa    maps them
3. filter_qc     filters the raw bam and reports QC (skipped with --raw)
4. xcor          cross-correlation on the filtered bam (skipped with --raw)

Experiments come from the arguments or, when there are none, one per line from
--infile (default stdin). Append replicate numbers to restrict mapping to those
biological replicates, e.g. ENCSR000AAA,1,2. Lines starting with # are skipped.

Workflows are only launched with --yes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		opts, err := mapOnlyOptions(cmd.Flags(), cfg)
		if err != nil {
			log.Fatalf("Error getting flags: %v", err)
		}
		if opts.Assembly == "" {
			fmt.Println("Please provide a reference genome assembly with --assembly, e.g. GRCh38, hg19 or mm10")
			return
		}

		keyfile, kErr := cmd.Flags().GetString("keyfile")
		if kErr != nil {
			log.Fatalf("Error getting keyfile flag: %v", kErr)
		}
		if !cmd.Flags().Changed("keyfile") && cfg.Keyfile != "" {
			keyfile = cfg.Keyfile
		}
		keypair, err := encode.LoadKeypair(opts.Key, keyfile)
		if err != nil {
			log.Fatalf("Error reading keypair: %v", err)
		}
		portal, err := encode.NewClient(keypair)
		if err != nil {
			log.Fatalf("Error creating ENCODE client: %v", err)
		}

		dxConfig, err := dnanexus.ConfigFromEnv()
		if err != nil {
			log.Fatalf("Error reading DNAnexus environment: %v", err)
		}

		records, err := readRecords(cmd, args)
		if err != nil {
			log.Fatalf("Error reading experiments: %v", err)
		}
		slog.Debug("Experiments to map", "count", len(records))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		runner := mapping.NewRunner(portal, dnanexus.NewClient(dxConfig), opts, cmd.OutOrStdout())
		runErr := runner.Run(ctx, records)

		summary, sErr := cmd.Flags().GetString("summary")
		if sErr != nil {
			log.Fatalf("Error getting summary flag: %v", sErr)
		}
		if summary != "" {
			if err := runner.Report().WriteCSV(summary); err != nil {
				log.Fatalf("Error writing summary: %v", err)
			}
			slog.Info("Wrote summary", "path", summary)
		}

		if runErr != nil {
			closeLog()
			log.Fatalf("%v", runErr)
		}
	},
}

// stringOption returns the flag when set on the command line, else the config
// value when there is one, else the flag default.
func stringOption(flags *pflag.FlagSet, name, configured string) (string, error) {
	value, err := flags.GetString(name)
	if err != nil {
		return "", err
	}
	if !flags.Changed(name) && configured != "" {
		return configured, nil
	}
	return value, nil
}

func mapOnlyOptions(flags *pflag.FlagSet, cfg utils.Config) (mapping.Options, error) {
	var opts mapping.Options
	var err error

	if opts.Assembly, err = stringOption(flags, "assembly", cfg.Assembly); err != nil {
		return opts, err
	}
	if opts.OutputProject, err = stringOption(flags, "outp", cfg.OutputProject); err != nil {
		return opts, err
	}
	if opts.OutputFolder, err = stringOption(flags, "outf", cfg.OutputFolder); err != nil {
		return opts, err
	}
	if opts.AppletProject, err = stringOption(flags, "applets", cfg.AppletProject); err != nil {
		return opts, err
	}
	if opts.Key, err = stringOption(flags, "key", cfg.Key); err != nil {
		return opts, err
	}
	if opts.Tag, err = flags.GetString("tag"); err != nil {
		return opts, err
	}

	bools := map[string]*bool{
		"sex_specific": &opts.SexSpecific,
		"yes":          &opts.Yes,
		"raw":          &opts.Raw,
		"no_sfn_dupes": &opts.NoSfnDupes,
		"force_se":     &opts.ForceSE,
		"debug":        &opts.Debug,
	}
	for name, dst := range bools {
		if *dst, err = flags.GetBool(name); err != nil {
			return opts, fmt.Errorf("%s flag: %w", name, err)
		}
	}

	opts.Applets = cfg.Applets
	opts.References = mapping.MergeReferences(mapping.DefaultReferences, cfg.References)
	opts.FetchConcurrency = cfg.FetchConcurrency
	return opts, nil
}

func readRecords(cmd *cobra.Command, args []string) ([]mapping.Record, error) {
	if len(args) > 0 {
		return mapping.ParseArgs(args)
	}
	infile, err := cmd.Flags().GetString("infile")
	if err != nil {
		return nil, err
	}
	var in io.Reader = cmd.InOrStdin()
	if infile != "" && infile != "-" {
		f, err := os.Open(infile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	return mapping.ParseRecords(in)
}

func addMapOnlyFlags(flags *pflag.FlagSet) {
	flags.String("infile", "", "File containing ENCSR accessions (default stdin)")
	flags.String("assembly", "", "Reference genome assembly, e.g. GRCh38, hg19, or mm10")
	flags.Bool("sex_specific", false, "Map to the male or female reference by biosample sex. Default male.")
	flags.String("outp", "", "Output project name or ID (default DX_PROJECT_CONTEXT_ID)")
	flags.String("outf", "/", "Output folder")
	flags.String("applets", "", "Name or ID of project containing applets (default DX_PROJECT_CONTEXT_ID)")
	flags.String("key", "default", "The keypair identifier from the keyfile")
	flags.String("keyfile", "~/keypairs.json", "The keypair filename")
	flags.Bool("yes", false, "Run the workflows created")
	flags.Bool("raw", false, "Produce only raw (unfiltered) bams")
	flags.String("tag", "", "String to add to the workflow title")
	flags.Bool("no_sfn_dupes", false, "Disallow duplicate submitted filenames. Otherwise warn but use files anyway.")
	flags.Bool("force_se", false, "Map only read1's of PE sequencing, and combine with SE data.")
	flags.String("summary", "", "Write a CSV summary of the workflows built to this file")
}

func init() {
	rootCmd.AddCommand(mapOnlyCmd)
	addMapOnlyFlags(mapOnlyCmd.Flags())
}
