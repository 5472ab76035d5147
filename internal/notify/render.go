package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

const (
	NewPostTemplate      = "new_post.html"
	WeeklyDigestTemplate = "weekly_digest.html"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Renderer{templates: t}, nil
}

// Render executes the named template with vars and returns the HTML.
func (r *Renderer) Render(name string, vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
