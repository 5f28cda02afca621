package sample

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/pkg/catalog"
)

// ErrDefinition reports an unusable sample definition file.
var ErrDefinition = errors.New("invalid sample definition")

// node mirrors one YAML list entry. A node is a group when it carries a
// samples list, a DAS sample when it names a dataset, and a filesystem
// sample when it names a directory.
type node struct {
	Name         string   `yaml:"name"`
	Title        string   `yaml:"title"`
	TreeName     string   `yaml:"tree_name"`
	CrossSection *float64 `yaml:"cross_section"`
	Data         bool     `yaml:"data"`

	DASName  string `yaml:"dasname"`
	Instance string `yaml:"instance"`

	Directory string `yaml:"directory"`
	Filter    string `yaml:"filter"`

	Samples []node `yaml:"samples"`
}

// LoadFile parses a sample definition file.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinition, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses sample definitions from a YAML stream. Entries that cannot
// be understood are skipped with a warning; a set with no usable samples
// is an error.
func Load(r io.Reader) (*Set, error) {
	var nodes []node
	if err := yaml.NewDecoder(r).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinition, err)
	}

	set := &Set{}
	for _, n := range nodes {
		switch {
		case n.Name == "":
			logger.Warn("skipping sample definition without name")
		case len(n.Samples) > 0:
			set.Groups = append(set.Groups, parseGroup(n))
		default:
			if s := parseSample(n); s != nil {
				set.Samples = append(set.Samples, s)
			}
		}
	}
	if len(set.Groups) == 0 && len(set.Samples) == 0 {
		return nil, fmt.Errorf("%w: no usable samples", ErrDefinition)
	}
	return set, nil
}

func parseGroup(n node) *Group {
	g := &Group{Name: n.Name, Title: n.Title}
	for _, child := range n.Samples {
		if len(child.Samples) > 0 {
			logger.Warn("skipping nested sample group", "group", n.Name, "name", child.Name)
			continue
		}
		if child.Name == "" {
			logger.Warn("skipping sample definition without name", "group", n.Name)
			continue
		}
		if s := parseSample(child); s != nil {
			g.Samples = append(g.Samples, s)
		}
	}
	return g
}

func parseSample(n node) *Sample {
	s := &Sample{
		Name:         n.Name,
		Title:        n.Title,
		TreeName:     n.TreeName,
		CrossSection: n.CrossSection,
		Data:         n.Data,
	}
	switch {
	case n.DASName != "":
		s.Kind = catalog.KindDAS
		s.DASName = n.DASName
		s.Instance = n.Instance
	case n.Directory != "":
		s.Kind = catalog.KindFS
		s.Directory = n.Directory
		s.Filter = n.Filter
		if s.Filter == "" {
			s.Filter = "*.root"
		}
	default:
		logger.Warn("skipping sample of unknown type", "name", n.Name)
		return nil
	}
	if s.TreeName == "" {
		logger.Warn("skipping sample without tree name", "name", n.Name)
		return nil
	}
	return s
}
