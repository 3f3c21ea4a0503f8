package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Feeds []string `yaml:"feeds"`
}

// LoadSeedList reads the YAML list of feeds used to populate an empty registry.
// A missing file yields an empty list.
func LoadSeedList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("Seed file not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	urls := make([]string, 0, len(seeds.Feeds))
	for i, u := range seeds.Feeds {
		u = strings.TrimSpace(u)
		if u == "" {
			return nil, fmt.Errorf("feed URL at index %d is empty", i)
		}
		urls = append(urls, u)
	}

	return urls, nil
}
