package newsletter

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateService renders campaign and workflow step templates with Liquid,
// caching parsed templates by source.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a template service with the filters our
// templates rely on.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}

	// {{ name | default: "Friend" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return ts
}

// Render renders source with the given bindings. Missing variables render
// empty rather than failing: production sends must not break on a contact
// with sparse metadata.
func (ts *TemplateService) Render(source string, vars map[string]interface{}) (string, error) {
	tpl, err := ts.parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ContactVars builds the standard binding set for a contact.
func ContactVars(c *Contact) map[string]interface{} {
	vars := map[string]interface{}{
		"email":  c.Email,
		"name":   c.Name,
		"plan":   c.Plan,
		"origin": c.Origin,
	}
	for k, v := range c.Metadata {
		if _, taken := vars[k]; !taken {
			vars[k] = v
		}
	}
	return vars
}

func (ts *TemplateService) parse(source string) (*liquid.Template, error) {
	if cached, ok := ts.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := ts.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	ts.cache.Store(source, tpl)
	return tpl, nil
}
