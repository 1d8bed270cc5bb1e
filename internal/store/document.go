package store

import (
	"strings"
	"time"
)

// Document is the input record the engine indexes. Only ID and Name are
// required; callers may leave the rest zero-valued.
type Document struct {
	ID              string
	Name            string
	Title           string
	Description     string
	Experience      string
	Projects        string
	Skills          []string
	Technologies    []string
	ExperienceYears int
	SeniorityLevel  string
}

// Validate reports whether the document has its required fields set.
func (d *Document) Validate() error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return errEmptyID
	}
	if strings.TrimSpace(d.Name) == "" {
		return errEmptyName
	}
	return nil
}

type validationErr string

func (e validationErr) Error() string { return string(e) }

const (
	errEmptyID   validationErr = "document id is required"
	errEmptyName validationErr = "document name is required"
)

// Text concatenates the document's text-bearing fields in the order the
// BM25 scorer and LSH feature extractor both expect.
func (d *Document) Text() string {
	parts := make([]string, 0, 7)
	parts = append(parts, d.Name, d.Title, d.Description, d.Experience, d.Projects)
	parts = append(parts, d.Skills...)
	parts = append(parts, d.Technologies...)
	return strings.Join(parts, " ")
}

// Tokenize lowercases and whitespace-splits text. Used identically for
// BM25 indexing/querying and for LSH shingle extraction — no stemming, no
// stopword removal.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// TextFeatures returns the deduplicated lowercase token set used as LSH
// shingles: tokens of the concatenated text fields union lowercased
// skills and technologies.
func (d *Document) TextFeatures() map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(d.Text()) {
		set[tok] = struct{}{}
	}
	for _, s := range d.Skills {
		set[strings.ToLower(s)] = struct{}{}
	}
	for _, t := range d.Technologies {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

// Metadata is the subset of a document's fields consulted by filters and
// returned alongside search results.
type Metadata struct {
	Name            string
	ExperienceYears int
	Skills          []string
	SeniorityLevel  string
}

// Metadata projects a Document to its stored Metadata.
func (d *Document) Metadata() *Metadata {
	skills := make([]string, len(d.Skills))
	copy(skills, d.Skills)
	return &Metadata{
		Name:            d.Name,
		ExperienceYears: d.ExperienceYears,
		Skills:          skills,
		SeniorityLevel:  d.SeniorityLevel,
	}
}

// ChangeKind is the kind of mutation an incremental Change carries.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a single document mutation event enqueued with the
// incremental manager.
type Change struct {
	DocID     string
	Kind      ChangeKind
	Doc       *Document
	Timestamp time.Time
}

// Filter restricts candidate documents by stored metadata. Unknown keys
// are not modeled — callers only ever populate the fields below.
type Filter struct {
	MinExperience    *int
	MaxExperience    *int
	SeniorityLevels  map[string]struct{}
	RequiredSkills   map[string]struct{} // lowercased
	ExcludedSkills   map[string]struct{} // lowercased
}

// Matches reports whether m satisfies every condition set on f. A nil
// filter matches everything.
func (f *Filter) Matches(m *Metadata) bool {
	if f == nil || m == nil {
		return true
	}

	if f.MinExperience != nil && m.ExperienceYears < *f.MinExperience {
		return false
	}
	if f.MaxExperience != nil && m.ExperienceYears > *f.MaxExperience {
		return false
	}
	if len(f.SeniorityLevels) > 0 {
		if _, ok := f.SeniorityLevels[m.SeniorityLevel]; !ok {
			return false
		}
	}

	skillSet := make(map[string]struct{}, len(m.Skills))
	for _, s := range m.Skills {
		skillSet[strings.ToLower(s)] = struct{}{}
	}

	for required := range f.RequiredSkills {
		if _, ok := skillSet[required]; !ok {
			return false
		}
	}
	for excluded := range f.ExcludedSkills {
		if _, ok := skillSet[excluded]; ok {
			return false
		}
	}

	return true
}

// SearchResult is a single ranked hit returned from Engine.Search.
type SearchResult struct {
	DocID           string
	SimilarityScore float64
	JaccardScore    float64
	BM25Score       float64
	CombinedScore   float64
	Metadata        *Metadata
}
