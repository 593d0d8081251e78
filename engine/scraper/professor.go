package scraper

import (
	"strconv"
	"strings"

	"github.com/rateprof/profrag/engine/domain"
)

// Field names of ProfessorPageSchema.
const (
	FieldStars     = "stars"
	FieldReview    = "review"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldSubject   = "subject"
)

const ratingsList = "ul.cbdtns"

// ProfessorPageSchema locates the first rating on a professor page.
var ProfessorPageSchema = Schema{
	Name: "professor",
	Fields: []Field{
		{Name: FieldStars, Required: true, Path: []Step{
			{ratingsList, 0}, {"div.DObVa", 0}, {"div", 0}, {"div", 1},
		}},
		{Name: FieldReview, Required: true, Path: []Step{
			{ratingsList, 0}, {"div.gRjWel", 0},
		}},
		{Name: FieldFirstName, Required: true, Path: []Step{
			{"div.kFNvIp", 0}, {"span", 1},
		}},
		{Name: FieldLastName, Required: true, Path: []Step{
			{"div.kFNvIp", 0}, {"span", 2},
		}},
		{Name: FieldSubject, Required: true, Path: []Step{
			{"div.iLYGwn", 0}, {"a", 0}, {"b", 0},
		}},
	},
}

// Extractor turns a page into a Review.
type Extractor struct {
	schema Schema
}

// NewExtractor returns an Extractor for schema.
func NewExtractor(schema Schema) *Extractor {
	return &Extractor{schema: schema}
}

// Extract parses html into a Review.
func (e *Extractor) Extract(html string) (domain.Review, error) {
	vals, err := e.schema.ExtractHTML(html)
	if err != nil {
		return domain.Review{}, err
	}
	return reviewFromValues(e.schema, vals)
}

func reviewFromValues(schema Schema, vals Values) (domain.Review, error) {
	stars, err := strconv.ParseFloat(strings.TrimSpace(vals[FieldStars]), 64)
	if err != nil {
		return domain.Review{}, fieldError(schema, FieldStars, err)
	}

	words := strings.Fields(vals[FieldSubject])
	if len(words) == 0 {
		return domain.Review{}, fieldError(schema, FieldSubject, domain.ErrEmptyInput)
	}

	return domain.Review{
		Professor: "Prof. " + strings.TrimSpace(vals[FieldFirstName]) + " " + strings.TrimSpace(vals[FieldLastName]),
		Subject:   words[0],
		Stars:     stars,
		Review:    strings.TrimSpace(vals[FieldReview]),
	}, nil
}

// fieldError reports a located field whose text could not be converted.
func fieldError(schema Schema, name string, err error) error {
	for _, f := range schema.Fields {
		if f.Name == name && len(f.Path) > 0 {
			last := len(f.Path) - 1
			return &domain.ExtractionError{Field: name, Step: last, Selector: f.Path[last].String(), Wrapped: err}
		}
	}
	return &domain.ExtractionError{Field: name, Wrapped: err}
}
