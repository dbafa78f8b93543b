package delivery

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/engagex/internal/domain"
)

// Renderer compiles campaign content with Liquid and renders it per recipient.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer returns a Renderer with the personalization filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ firstName | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && s == "" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	})

	return &Renderer{engine: engine}
}

// Content is a campaign's parsed subject and bodies.
type Content struct {
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

// Prepare parses the campaign's subject and bodies once per dispatch.
func (r *Renderer) Prepare(c *domain.Campaign) (*Content, error) {
	var out Content
	parts := []struct {
		name string
		src  string
		dst  **liquid.Template
	}{
		{"subject", c.Subject, &out.subject},
		{"html_content", c.HTMLContent, &out.html},
		{"text_content", c.TextContent, &out.text},
	}
	for _, p := range parts {
		if p.src == "" {
			continue
		}
		tpl, err := r.engine.ParseString(p.src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, p.name, err)
		}
		*p.dst = tpl
	}
	return &out, nil
}

// Vars are the per-recipient variables available to campaign content.
type Vars struct {
	FirstName        string
	LastName         string
	Email            string
	OrganizationName string
	UnsubscribeURL   string
}

func (v Vars) bindings() liquid.Bindings {
	return liquid.Bindings{
		"firstName":        v.FirstName,
		"lastName":         v.LastName,
		"email":            v.Email,
		"organizationName": v.OrganizationName,
		"unsubscribeUrl":   v.UnsubscribeURL,
	}
}

// Render returns subject, html and text for one recipient.
func (c *Content) Render(v Vars) (subject, html, text string, err error) {
	b := v.bindings()
	if subject, err = render(c.subject, b); err != nil {
		return "", "", "", fmt.Errorf("render subject: %w", err)
	}
	if html, err = render(c.html, b); err != nil {
		return "", "", "", fmt.Errorf("render html: %w", err)
	}
	if text, err = render(c.text, b); err != nil {
		return "", "", "", fmt.Errorf("render text: %w", err)
	}
	return subject, html, text, nil
}

func render(tpl *liquid.Template, b liquid.Bindings) (string, error) {
	if tpl == nil {
		return "", nil
	}
	out, err := tpl.RenderString(b)
	if err != nil {
		return "", err
	}
	return out, nil
}
