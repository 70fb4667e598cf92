package sitespec

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load reads a sites.yaml file into a list of specs. The file must be a
// YAML list; per-spec validation is deferred to the run loop so one bad
// site does not block the rest.
func Load(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sitespec: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document holding a list of site specs.
func Parse(data []byte) ([]Spec, error) {
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, eris.Wrap(err, "sitespec: parse")
	}
	return specs, nil
}

// RespectRobots reports whether robots.txt should be honored for a run
// over the given specs. Any spec opting out disables checks for the run,
// matching the single shared HTTP session.
func RespectRobots(specs []Spec) bool {
	for _, s := range specs {
		if s.RespectRobots != nil && !*s.RespectRobots {
			return false
		}
	}
	return true
}
