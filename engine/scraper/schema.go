package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rateprof/profrag/engine/domain"
)

// Step narrows a selection: Find(Selector) then take the Index-th match in
// document order.
type Step struct {
	Selector string
	Index    int
}

func (s Step) String() string {
	return fmt.Sprintf("%s[%d]", s.Selector, s.Index)
}

// Field is a named value located by walking Path from the document root.
type Field struct {
	Name     string
	Path     []Step
	Required bool
}

// Schema is an ordered set of fields extracted from one page type.
type Schema struct {
	Name   string
	Fields []Field
}

// Values maps field names to their extracted text.
type Values map[string]string

// Extract walks every field of the schema over doc. The first required field
// that cannot be located is reported as a *domain.ExtractionError; missing
// optional fields yield "".
func (s Schema) Extract(doc *goquery.Document) (Values, error) {
	out := make(Values, len(s.Fields))
	for _, f := range s.Fields {
		sel, failed := walk(doc.Selection, f.Path)
		if failed >= 0 {
			if f.Required {
				return nil, &domain.ExtractionError{
					Field:    f.Name,
					Step:     failed,
					Selector: f.Path[failed].String(),
					Wrapped:  domain.ErrSelectorMiss,
				}
			}
			out[f.Name] = ""
			continue
		}
		out[f.Name] = sel.Text()
	}
	return out, nil
}

// ExtractHTML parses html and runs Extract over it.
func (s Schema) ExtractHTML(html string) (Values, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse %s page: %w", s.Name, err)
	}
	return s.Extract(doc)
}

// walk returns the selected node, or the index of the first step that
// matched nothing (-1 on success).
func walk(root *goquery.Selection, path []Step) (*goquery.Selection, int) {
	sel := root
	for i, step := range path {
		matches := sel.Find(step.Selector)
		if step.Index < 0 || step.Index >= matches.Length() {
			return nil, i
		}
		sel = matches.Eq(step.Index)
	}
	return sel, -1
}
