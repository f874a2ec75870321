// Package entity loads the curated entity catalogues (persons, organizations,
// locations, events, titles), matches person names with a position-weighted
// similarity score, and extracts at most one entity from a query.
//
// Catalogues are immutable after loading; every type in this package is safe
// for concurrent reads.
package entity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/pythia/pkg/knowledge"
)

// Intent classifies what a query is about, derived from the extracted entity.
type Intent string

const (
	IntentGeneral      Intent = "GENERAL"
	IntentPerson       Intent = "PERSON"
	IntentOrganization Intent = "ORGANIZATION"
	IntentLocation     Intent = "LOCATION"
	IntentEvent        Intent = "EVENT"
)

// IntentFor maps an entity type to the query intent it implies. TITLE matches
// carry no retrieval strategy of their own and classify as GENERAL.
func IntentFor(t knowledge.EntityType) Intent {
	switch t {
	case knowledge.Person:
		return IntentPerson
	case knowledge.Organization:
		return IntentOrganization
	case knowledge.Location:
		return IntentLocation
	case knowledge.Event:
		return IntentEvent
	default:
		return IntentGeneral
	}
}

// Match is one entity recognised in a query.
type Match struct {
	// Text is the canonical catalogue entry that matched, not the query span.
	Text string

	// Type is the catalogue category the entry belongs to.
	Type knowledge.EntityType

	// Confidence is the match strength in [0, 1]. Exact matches score 1.
	Confidence float64

	// Exact is true when the whole query equalled a catalogue entry.
	Exact bool
}

// RewriteRule is one compiled name-normalization rule from the persons
// catalogue. Replacement may reference capture groups with $1, $2, ….
type RewriteRule struct {
	re          *regexp.Regexp
	replacement string
}

// NewRewriteRule compiles pattern case-insensitively into a [RewriteRule].
func NewRewriteRule(pattern, replacement string) (RewriteRule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return RewriteRule{}, fmt.Errorf("entity: compile name format %q: %w", pattern, err)
	}
	return RewriteRule{re: re, replacement: replacement}, nil
}

// Apply rewrites name according to the rule.
func (r RewriteRule) Apply(name string) string {
	return r.re.ReplaceAllString(name, r.replacement)
}

// PersonsCatalogue is the PERSON category with its name-handling extras.
// The fields are distinct on purpose: known names, honorific patterns, role
// patterns, rewrite rules, and the transliteration table never mix.
type PersonsCatalogue struct {
	// KnownPersons are canonical person names in catalogue order.
	KnownPersons []string

	// TitlePatterns are honorific prefixes ("Prof", "Dr", …) recognised in
	// front of names.
	TitlePatterns []string

	// RolePatterns are role designations ("Director", "Dean", …) that may
	// appear instead of a name.
	RolePatterns []string

	// NameFormats are rewrite rules applied in order during standardization.
	NameFormats []RewriteRule

	// Transliterations maps lowercase variant spellings to canonical forms.
	Transliterations map[string]string
}

// Catalogue holds the five entity categories plus lowercase indices for O(1)
// exact lookup. Built once at startup; read-only afterwards.
type Catalogue struct {
	Persons       PersonsCatalogue
	Organizations []string
	Locations     []string
	Events        []string
	Titles        []string

	// index maps each category's lowercase entry to its canonical form.
	index map[knowledge.EntityType]map[string]string
}

// Entries returns the catalogue entries of the given category in load order.
func (c *Catalogue) Entries(t knowledge.EntityType) []string {
	switch t {
	case knowledge.Person:
		return c.Persons.KnownPersons
	case knowledge.Organization:
		return c.Organizations
	case knowledge.Location:
		return c.Locations
	case knowledge.Event:
		return c.Events
	case knowledge.Title:
		return c.Titles
	default:
		return nil
	}
}

// Lookup resolves the lowercase form of s to its canonical catalogue entry in
// category t.
func (c *Catalogue) Lookup(t knowledge.EntityType, s string) (string, bool) {
	canonical, ok := c.index[t][strings.ToLower(strings.TrimSpace(s))]
	return canonical, ok
}

// Size reports the number of entries in the given category.
func (c *Catalogue) Size(t knowledge.EntityType) int {
	return len(c.Entries(t))
}

// buildIndex populates the lowercase → canonical maps for every category.
// First occurrence wins on case-insensitive duplicates.
func (c *Catalogue) buildIndex() {
	c.index = make(map[knowledge.EntityType]map[string]string, 5)
	for _, t := range knowledge.EntityTypes() {
		entries := c.Entries(t)
		m := make(map[string]string, len(entries))
		for _, e := range entries {
			low := strings.ToLower(strings.TrimSpace(e))
			if _, dup := m[low]; !dup {
				m[low] = e
			}
		}
		c.index[t] = m
	}
}
