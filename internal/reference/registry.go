// Package reference holds the catalog of curated movement patterns (one gold
// standard and several known deviations) and the lookup of their reference
// frame images.
//
// A Registry is built once at startup and never mutated afterwards, so it can
// be shared by concurrent frame evaluations without locking.
package reference

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Patterns []analysis.ReferencePattern `yaml:"patterns"`
}

// Registry is an immutable set of reference patterns.
type Registry struct {
	gold       *analysis.ReferencePattern
	deviations []*analysis.ReferencePattern
	byID       map[string]*analysis.ReferencePattern
	byType     map[analysis.DeviationType]*analysis.ReferencePattern
}

// LoadDefault parses the catalog embedded in the binary.
func LoadDefault() (*Registry, error) {
	return Load(defaultCatalog)
}

// MustLoadDefault is LoadDefault for package-level initialisation and tests.
func MustLoadDefault() *Registry {
	r, err := LoadDefault()
	if err != nil {
		panic(err)
	}
	return r
}

// Load parses a YAML catalog. Exactly one gold pattern is required; every
// pattern must pass analysis.ReferencePattern.Validate.
func Load(data []byte) (*Registry, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(cf.Patterns)
}

// New builds a registry from already-decoded patterns. The patterns are
// copied so later changes by the caller do not leak in.
func New(patterns []analysis.ReferencePattern) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*analysis.ReferencePattern, len(patterns)),
		byType: make(map[analysis.DeviationType]*analysis.ReferencePattern),
	}
	for i := range patterns {
		p := clonePattern(patterns[i])
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pattern id %s", p.ID)
		}
		r.byID[p.ID] = p

		switch p.Category {
		case analysis.CategoryGold:
			if r.gold != nil {
				return nil, fmt.Errorf("multiple gold patterns: %s and %s", r.gold.ID, p.ID)
			}
			r.gold = p
		case analysis.CategoryDeviation:
			r.deviations = append(r.deviations, p)
			if _, ok := r.byType[p.DeviationType]; !ok {
				r.byType[p.DeviationType] = p
			}
		default:
			return nil, fmt.Errorf("pattern %s: unknown category %q", p.ID, p.Category)
		}
	}
	if r.gold == nil {
		return nil, fmt.Errorf("catalog has no gold pattern")
	}
	return r, nil
}

// Gold returns the gold-standard pattern.
func (r *Registry) Gold() *analysis.ReferencePattern {
	return r.gold
}

// Deviations returns the known-deviation patterns in catalog order.
func (r *Registry) Deviations() []*analysis.ReferencePattern {
	out := make([]*analysis.ReferencePattern, len(r.deviations))
	copy(out, r.deviations)
	return out
}

// ByID looks a pattern up by its identifier.
func (r *Registry) ByID(id string) (*analysis.ReferencePattern, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// ByDeviationType returns the first pattern for a deviation type.
func (r *Registry) ByDeviationType(t analysis.DeviationType) (*analysis.ReferencePattern, bool) {
	p, ok := r.byType[t]
	return p, ok
}

func clonePattern(p analysis.ReferencePattern) *analysis.ReferencePattern {
	c := p
	c.FrameImages = append([]string(nil), p.FrameImages...)
	c.ExpectedAngles = make(map[analysis.Channel][]float64, len(p.ExpectedAngles))
	for ch, vals := range p.ExpectedAngles {
		c.ExpectedAngles[ch] = append([]float64(nil), vals...)
	}
	return &c
}
