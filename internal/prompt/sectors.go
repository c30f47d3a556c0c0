package prompt

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed sectors.yaml
var sectorsYAML []byte

// SectorOverride marks an HS chapter that defaults to duty-free treatment
// absent explicit punitive measures.
type SectorOverride struct {
	Chapter string `yaml:"chapter"`
	Sector  string `yaml:"sector"`
	Note    string `yaml:"note"`
}

type sectorTable struct {
	DutyFreeChapters []SectorOverride `yaml:"duty_free_chapters"`
}

// LoadSectorOverrides parses the embedded sector override table.
func LoadSectorOverrides() ([]SectorOverride, error) {
	var t sectorTable
	if err := yaml.Unmarshal(sectorsYAML, &t); err != nil {
		return nil, eris.Wrap(err, "prompt: parse sector overrides")
	}
	return t.DutyFreeChapters, nil
}

// matchSector returns the override for the HS code's chapter (first two
// digits), or nil when the chapter carries no default override.
func matchSector(overrides []SectorOverride, hsCode string) *SectorOverride {
	code := strings.TrimSpace(hsCode)
	if len(code) < 2 {
		return nil
	}
	chapter := code[:2]
	for i := range overrides {
		if overrides[i].Chapter == chapter {
			return &overrides[i]
		}
	}
	return nil
}
