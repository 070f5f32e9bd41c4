package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
)

// DownloadRegistry downloads the cosmos chain-registry into dst.
//
// Params:
//   - dst: the directory to download the registry to
//
// Returns:
//   - error: if the registry cannot be downloaded
//
// The checkout is only used to enrich display names, so a stale copy is
// acceptable and failures here are not fatal to the indexer.
func DownloadRegistry(dst string) error {
	url := "github.com/cosmos/chain-registry"
	deadline := time.Now().Add(120 * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	opts := getter.Client{
		Ctx:  ctx,
		Src:  url,
		Dst:  dst,
		Mode: getter.ClientModeDir,
		Detectors: []getter.Detector{
			&getter.GitHubDetector{},
		},
		Getters: map[string]getter.Getter{
			"git": &getter.GitGetter{},
		},
	}
	if err := opts.Get(); err != nil {
		return fmt.Errorf("failed to download chain registry: %w", err)
	}
	return nil
}

// chainEntry is the subset of a chain-registry chain.json the registry needs.
type chainEntry struct {
	ChainID    string `json:"chain_id"`
	PrettyName string `json:"pretty_name"`
	ChainName  string `json:"chain_name"`
}

// LoadFromDir walks a chain-registry checkout and registers every
// chain_id -> pretty_name pair found in top level chain.json files.
// Returns the number of chains registered.
func (r *Registry) LoadFromDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read registry dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "chain.json")
		body, err := os.ReadFile(path)
		if err != nil {
			// not every directory is a chain
			continue
		}

		var chain chainEntry
		if err := json.Unmarshal(body, &chain); err != nil {
			continue
		}
		if chain.ChainID == "" {
			continue
		}

		name := chain.PrettyName
		if name == "" {
			name = chain.ChainName
		}
		if name == "" {
			continue
		}
		r.Register(chain.ChainID, name)
		loaded++
	}

	return loaded, nil
}
