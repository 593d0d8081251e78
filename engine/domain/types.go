// Package domain defines the review types, identity rules, and the error
// taxonomy shared by every stage of the ingestion pipeline.
package domain

import "strings"

// Review is one professor review, either scraped from a page or loaded from
// the review file.
type Review struct {
	Professor string  `json:"professor"`
	Subject   string  `json:"subject"`
	Stars     float64 `json:"stars"`
	Review    string  `json:"review"`
}

// Key identifies a review. Two reviews with the same key are duplicates.
type Key struct {
	Professor string
	Subject   string
}

// Key returns the identity key of r.
func (r Review) Key() Key {
	return Key{Professor: r.Professor, Subject: r.Subject}
}

// String renders the key as "professor|subject".
func (k Key) String() string {
	return k.Professor + "|" + k.Subject
}

// Matches reports whether r has the same identity as other. Comparison is
// exact and case-sensitive.
func (r Review) Matches(other Review) bool {
	return r.Professor == other.Professor && r.Subject == other.Subject
}

// IDScheme selects how a review maps to a vector index id.
type IDScheme string

const (
	// IDSchemeProfessor keys vectors by professor name alone. A second review
	// for the same professor under another subject overwrites the first vector.
	IDSchemeProfessor IDScheme = "professor"
	// IDSchemeProfessorSubject keys vectors by "professor|subject".
	IDSchemeProfessorSubject IDScheme = "professor_subject"
)

// ParseIDScheme converts a config string to an IDScheme.
func ParseIDScheme(s string) (IDScheme, error) {
	switch IDScheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", IDSchemeProfessor:
		return IDSchemeProfessor, nil
	case IDSchemeProfessorSubject:
		return IDSchemeProfessorSubject, nil
	default:
		return "", NewValidationError("id_scheme", s, ErrInvalidValue)
	}
}

// VectorID returns the vector index id for r under the given scheme.
func (s IDScheme) VectorID(r Review) string {
	if s == IDSchemeProfessorSubject {
		return r.Key().String()
	}
	return r.Professor
}

// Metadata is the payload stored next to each review vector.
func (r Review) Metadata() map[string]any {
	return map[string]any{
		"review":  r.Review,
		"subject": r.Subject,
		"stars":   r.Stars,
	}
}
