package encode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keypair holds portal credentials and the server they belong to.
type Keypair struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
	Server string `json:"server"`
}

// LoadKeypair reads the named keypair from a JSON keyfile shaped like
//
//	{"default": {"key": "...", "secret": "...", "server": "https://www.encodeproject.org"}}
//
// The returned server always ends with a slash so relative paths resolve under it.
func LoadKeypair(name, keyfile string) (Keypair, error) {
	path, err := ExpandHome(keyfile)
	if err != nil {
		return Keypair{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Keypair{}, fmt.Errorf("reading keyfile %s: %w", path, err)
	}
	var keypairs map[string]Keypair
	if err := json.Unmarshal(data, &keypairs); err != nil {
		return Keypair{}, fmt.Errorf("parsing keyfile %s: %w", path, err)
	}
	kp, ok := keypairs[name]
	if !ok {
		return Keypair{}, fmt.Errorf("no keypair named %q in %s", name, path)
	}
	if kp.Server == "" {
		return Keypair{}, fmt.Errorf("keypair %q in %s has no server", name, path)
	}
	if !strings.HasSuffix(kp.Server, "/") {
		kp.Server += "/"
	}
	return kp, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
