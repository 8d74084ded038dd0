package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/services"
)

//go:embed templates
var templateFS embed.FS

// Breadcrumb represents a navigation trail
type Breadcrumb struct {
	Title string
	URL   string
}

// PageData is the common data structure passed to templates
type PageData struct {
	Title       string
	ActiveNav   string
	Breadcrumbs []Breadcrumb
	UserEmail   string
	UserUID     string
	Data        interface{} // Page-specific data
}

// TemplateRenderer is an html/template renderer for Echo. Each page gets its own clone of
// the base layout so pages can define the same blocks.
type TemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTemplateRenderer parses the embedded layouts, partials and pages.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	return newTemplateRenderer(templateFS)
}

func newTemplateRenderer(fsys fs.FS) (*TemplateRenderer, error) {
	templates := make(map[string]*template.Template)

	baseTemplate, err := template.New("").Funcs(funcs).ParseFS(fsys, "templates/layouts/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layouts: %w", err)
	}

	pages, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		pageTemplate, err := baseTemplate.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := pageTemplate.ParseFS(fsys, page); err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		templates[path.Base(page)] = pageTemplate
	}

	// Standalone templates (login) don't use the base layout
	standalone, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, err
	}
	for _, page := range standalone {
		name := path.Base(page)
		if _, exists := templates[name]; exists {
			continue
		}
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(fsys, page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		templates[name] = tmpl
	}

	return &TemplateRenderer{templates: templates}, nil
}

// Render renders a template document
func (t *TemplateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := t.templates[name]
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "Template not found: "+name)
	}

	if tmpl.Lookup("base") == nil {
		return tmpl.ExecuteTemplate(w, name, data)
	}

	// Auto-inject the operator identity set by the auth middleware
	if page, ok := data.(*PageData); ok && c != nil {
		if page.UserEmail == "" {
			page.UserEmail = contextString(c, "userEmail")
		}
		if page.UserUID == "" {
			page.UserUID = contextString(c, "userUID")
		}
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

var funcs = template.FuncMap{
	"amount": services.FormatAmount,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("02 Jan 2006 15:04")
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

func contextString(c echo.Context, key string) string {
	s, _ := c.Get(key).(string)
	return s
}
