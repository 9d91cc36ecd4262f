package skills

import (
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
)

// Groups of skills, as advertised in the agent card
const (
	GroupTracking   = "tracking"
	GroupRouting    = "routing"
	GroupExceptions = "exception"
	GroupAnalytics  = "analytics"
)

// Params are the parameters of a skill request
type Params map[string]any

// Skill maps a named capability to a tool on the server
type Skill struct {
	Name        string `json:"name"`
	Tool        string `json:"tool"`
	Group       string `json:"group"`
	Description string `json:"description"`
	// Required lists parameters that must be present in the request
	Required []string `json:"required,omitempty"`

	args func(p Params) map[string]any
}

// Args validates p and returns the tool arguments
func (s *Skill) Args(p Params) (map[string]any, error) {
	for _, name := range s.Required {
		if _, ok := p[name]; !ok {
			return nil, errors.Errorf("missing required parameter '%s'", name)
		}
	}
	if p == nil {
		p = Params{}
	}
	return s.args(p), nil
}

// Get returns the parameter, or def when it is not present
func (p Params) Get(name string, def any) any {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// First returns the first parameter that has a non-empty value
func (p Params) First(names ...string) any {
	for _, name := range names {
		switch v := p[name].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

// Catalog is a set of skills indexed by name
type Catalog map[string]*Skill

// NewCatalog returns catalog of the skills
func NewCatalog(list ...*Skill) Catalog {
	c := make(Catalog, len(list))
	for _, s := range list {
		c[s.Name] = s
	}
	return c
}

// Names returns sorted skill names
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns skills sorted by name
func (c Catalog) List() []*Skill {
	list := make([]*Skill, 0, len(c))
	for _, name := range c.Names() {
		list = append(list, c[name])
	}
	return list
}

// Groups returns sorted names of skill groups
func (c Catalog) Groups() []string {
	var groups []string
	for _, s := range c {
		if !slices.Contains(groups, s.Group) {
			groups = append(groups, s.Group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Group returns skills of the group
func (c Catalog) Group(group string) Catalog {
	g := make(Catalog)
	for name, s := range c {
		if s.Group == group {
			g[name] = s
		}
	}
	return g
}
