// Package profiles holds named archetype profiles used to pick representative repositories
package profiles

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"ghstrata/internal/core/strata"
	perr "ghstrata/internal/platform/errors"
)

//go:embed builtin.yaml
var builtin []byte

// Profile selects repositories whose archetype satisfies every rule
type Profile struct {
	Name           string
	Description    string
	SamplingMetric strata.Metric
	Rules          map[strata.Metric][]strata.Category
}

// Matches reports whether a satisfies every rule of p
func (p Profile) Matches(a strata.Archetype) bool {
	for m, allowed := range p.Rules {
		ok := false
		for _, c := range allowed {
			if a[m] == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Metrics returns the metrics p constrains, in column order
func (p Profile) Metrics() []strata.Metric {
	out := make([]strata.Metric, 0, len(p.Rules))
	for m := range p.Rules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fileProfile struct {
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	SamplingMetric string              `yaml:"sampling_metric"`
	Match          map[string][]string `yaml:"match"`
}

type file struct {
	Profiles []fileProfile `yaml:"profiles"`
}

// Set is a name indexed collection of profiles
type Set struct {
	byName map[string]Profile
}

// Builtin returns the embedded profiles
func Builtin() *Set {
	s, err := Parse(builtin)
	if err != nil {
		panic("profiles: builtin.yaml: " + err.Error())
	}
	return s
}

// Load returns the built in profiles overridden and extended by the YAML file at path.
// An empty path yields the built ins
func Load(path string) (*Set, error) {
	s := Builtin()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "profiles: read %s", path)
	}
	extra, err := Parse(b)
	if err != nil {
		return nil, perr.WithOp(err, "load "+path)
	}
	for name, p := range extra.byName {
		s.byName[name] = p
	}
	return s, nil
}

// Parse decodes and validates a profiles document
func Parse(b []byte) (*Set, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "profiles: decode")
	}
	s := &Set{byName: map[string]Profile{}}
	for i, fp := range f.Profiles {
		p, err := fp.compile()
		if err != nil {
			return nil, perr.WithField(err, fmt.Sprintf("profiles[%d]", i))
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, perr.InvalidArgf("profiles: %q defined twice", p.Name)
		}
		s.byName[p.Name] = p
	}
	return s, nil
}

func (fp fileProfile) compile() (Profile, error) {
	if fp.Name == "" {
		return Profile{}, perr.InvalidArgf("profiles: missing name")
	}
	p := Profile{Name: fp.Name, Description: fp.Description, SamplingMetric: strata.CollaborationCum, Rules: map[strata.Metric][]strata.Category{}}
	if fp.SamplingMetric != "" {
		m, ok := strata.ParseMetric(fp.SamplingMetric)
		if !ok {
			return Profile{}, perr.InvalidArgf("profiles: %s: unknown sampling metric %q", fp.Name, fp.SamplingMetric)
		}
		p.SamplingMetric = m
	}
	if len(fp.Match) == 0 {
		return Profile{}, perr.InvalidArgf("profiles: %s: empty match", fp.Name)
	}
	for name, cats := range fp.Match {
		m, ok := strata.ParseMetric(name)
		if !ok {
			return Profile{}, perr.InvalidArgf("profiles: %s: unknown metric %q", fp.Name, name)
		}
		if len(cats) == 0 {
			return Profile{}, perr.InvalidArgf("profiles: %s: %s allows no category", fp.Name, name)
		}
		for _, c := range cats {
			cat, ok := strata.ParseCategory(c)
			if !ok {
				return Profile{}, perr.InvalidArgf("profiles: %s: unknown category %q", fp.Name, c)
			}
			p.Rules[m] = append(p.Rules[m], cat)
		}
	}
	return p, nil
}

// Get returns the profile called name
func (s *Set) Get(name string) (Profile, error) {
	p, ok := s.byName[name]
	if !ok {
		return Profile{}, perr.NotFoundf("profiles: no profile %q (have %v)", name, s.Names())
	}
	return p, nil
}

// Names lists the profile names in order
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
