package utils

import (
	"fmt"
	"os"

	"github.com/gmaffy/encode-map/encode"
	"github.com/gmaffy/encode-map/mapping"
	"gopkg.in/yaml.v3"
)

// Config holds defaults for the mapOnly command. Flags given on the command
// line take precedence over values read from the config file.
type Config struct {
	Key     string `yaml:"key"`
	Keyfile string `yaml:"keyfile"`

	Assembly      string `yaml:"assembly"`
	OutputProject string `yaml:"output_project"`
	OutputFolder  string `yaml:"output_folder"`
	AppletProject string `yaml:"applet_project"`

	Applets mapping.AppletNames `yaml:"applets"`
	// References replace or extend the built-in reference table.
	References []mapping.Reference `yaml:"references"`

	FetchConcurrency int `yaml:"fetch_concurrency"`
}

func ReadConfig(configPath string) (Config, error) {
	path, err := encode.ExpandHome(configPath)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	for i, ref := range cfg.References {
		if ref.Assembly == "" || ref.Organism == "" || ref.Sex == "" || ref.File == "" {
			return Config{}, fmt.Errorf("config %s: reference %d needs assembly, organism, sex and file", path, i+1)
		}
	}
	return cfg, nil
}
