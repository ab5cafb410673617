package opening

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed openings.yaml
var defaultCatalog embed.FS

type catalogFile struct {
	Openings []Definition `yaml:"openings"`
}

// LoadCatalog returns the ordered definition list: the embedded default set,
// followed by the entries of overridePath when one is given. Overrides extend
// the tree; restating an embedded line only adds aliases (first label wins).
func LoadCatalog(overridePath string) ([]Definition, error) {
	raw, err := fs.ReadFile(defaultCatalog, "openings.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	defs, err := parseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}

	if strings.TrimSpace(overridePath) != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read catalog %q: %w", overridePath, err)
		}
		extra, err := parseCatalog(b)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", overridePath, err)
		}
		defs = append(defs, extra...)
	}
	return defs, nil
}

func parseCatalog(b []byte) ([]Definition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}
	if len(f.Openings) == 0 {
		return nil, fmt.Errorf("catalog has no openings")
	}
	for i, def := range f.Openings {
		if strings.TrimSpace(def.Code) == "" || strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("catalog entry %d: eco and name are required", i)
		}
		if strings.TrimSpace(def.Moves) == "" {
			return nil, fmt.Errorf("catalog entry %d (%s): moves are required", i, def.Code)
		}
	}
	return f.Openings, nil
}
