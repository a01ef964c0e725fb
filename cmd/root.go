/*
Copyright © 2025 Godwin Mafireyi (mafireyi@gmail.com)
*/
package cmd

import (
	"log"
	"os"

	"github.com/gmaffy/encode-map/utils"
	"github.com/spf13/cobra"
)

var cfgFile string
var debug bool
var logFile string

var closeLog = func() error { return nil }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "encode-map",
	Short: "Launch ENCODE read mapping workflows on DNAnexus",
	Long: `Builds read mapping workflows on DNAnexus from ENCODE portal metadata:
1.	Select the raw reads of each experiment (fastq/fasta, mappable status)
2.	Pair paired-end mates and group files by biological replicate
3.	Pick a reference from the replicate's organism and sex
4.	Build input shield -> bwa -> filter/QC -> cross-correlation workflows, and optionally run them
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		closer, err := utils.SetupLogging(debug, logFile)
		if err != nil {
			log.Fatalf("Error setting up logging: %v", err)
		}
		closeLog = closer
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLog()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print debug messages")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append JSON logs to this file")
}

// loadConfig reads the --config file, or returns an empty config when none was given.
func loadConfig() utils.Config {
	if cfgFile == "" {
		return utils.Config{}
	}
	if _, err := os.Stat(cfgFile); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	cfg, err := utils.ReadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return cfg
}
