// Package tool defines the static catalog of MCP tools advertised to the
// conversation runtime and validated during dispatch.
package tool

import (
	"fmt"

	"github.com/Kestr3l/ChatRelay/internal/domain"
)

// Param describes a single tool parameter in the advertised schema.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Tool is one named, schema-described capability the model may call mid-run.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Params      map[string]Param `json:"params,omitempty"`
}

// Catalog is an immutable, ordered registry of tools. It is constructed once
// at startup and shared read-only across all runs, so no locking is needed.
type Catalog struct {
	order  []string
	byName map[string]Tool
}

// NewCatalog builds a catalog preserving insertion order.
// Duplicate names and empty names are rejected.
func NewCatalog(tools ...Tool) (*Catalog, error) {
	c := &Catalog{
		order:  make([]string, 0, len(tools)),
		byName: make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tool name is required", domain.ErrValidation)
		}
		if _, exists := c.byName[t.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate tool %q", domain.ErrValidation, t.Name)
		}
		c.order = append(c.order, t.Name)
		c.byName[t.Name] = t
	}
	return c, nil
}

// List returns all tools in insertion order.
func (c *Catalog) List() []Tool {
	out := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Get returns the tool with the given name.
func (c *Catalog) Get(name string) (Tool, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Filter returns a new catalog containing only the named tools, in the
// receiver's order. A nil slice keeps every tool; an empty non-nil slice
// yields an empty catalog (all tools disabled).
func (c *Catalog) Filter(enabled []string) *Catalog {
	if enabled == nil {
		return c
	}
	keep := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		keep[name] = true
	}
	out := &Catalog{byName: make(map[string]Tool)}
	for _, name := range c.order {
		if keep[name] {
			out.order = append(out.order, name)
			out.byName[name] = c.byName[name]
		}
	}
	return out
}

// Default returns the built-in GitHub tool catalog proxied to the MCP gateway.
func Default() *Catalog {
	c, err := NewCatalog(
		Tool{
			Name:        "search_repositories",
			Description: "Search GitHub repositories using the repository search query syntax.",
			Params: map[string]Param{
				"query":   {Type: "string", Description: "Repository search query", Required: true},
				"sort":    {Type: "string", Description: "Sort field: stars, forks, help-wanted-issues, updated"},
				"order":   {Type: "string", Description: "Sort order: asc or desc"},
				"perPage": {Type: "number", Description: "Results per page (max 100)"},
			},
		},
		Tool{
			Name:        "get_file_contents",
			Description: "Fetch the contents of a file or directory from a GitHub repository.",
			Params: map[string]Param{
				"owner": {Type: "string", Description: "Repository owner", Required: true},
				"repo":  {Type: "string", Description: "Repository name", Required: true},
				"path":  {Type: "string", Description: "File or directory path", Required: true},
				"ref":   {Type: "string", Description: "Git ref (branch, tag, or commit SHA)"},
			},
		},
		Tool{
			Name:        "list_issues",
			Description: "List issues of a GitHub repository.",
			Params: map[string]Param{
				"owner": {Type: "string", Description: "Repository owner", Required: true},
				"repo":  {Type: "string", Description: "Repository name", Required: true},
				"state": {Type: "string", Description: "Issue state: open, closed, or all"},
			},
		},
	)
	if err != nil {
		// Static definitions above; unreachable unless they are edited badly.
		panic(err)
	}
	return c
}
