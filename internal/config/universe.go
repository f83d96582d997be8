package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// universeFile is the YAML layout of universe.file:
//
//	tickers:
//	  - AAPL
//	  - MSFT
type universeFile struct {
	Tickers []string `yaml:"tickers" validate:"dive,required"`
}

var validate = validator.New()

// LoadUniverse returns the tickers listed in u.File followed by u.Tickers,
// upper-cased, de-duplicated and sorted. A missing file is an error; an
// empty File means the inline list alone.
func LoadUniverse(u UniverseConfig) ([]string, error) {
	var all []string
	if u.File != "" {
		raw, err := os.ReadFile(u.File)
		if err != nil {
			return nil, fmt.Errorf("config: read universe: %w", err)
		}
		var f universeFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("config: parse universe %s: %w", u.File, err)
		}
		if err := validate.Struct(f); err != nil {
			return nil, fmt.Errorf("config: universe %s: %w", u.File, err)
		}
		all = append(all, f.Tickers...)
	}
	all = append(all, u.Tickers...)

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, t := range all {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
