package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Catalogue file names expected under the catalogue directory.
const (
	personsFile       = "persons.json"
	organizationsFile = "organizations.json"
	locationsFile     = "locations.json"
	eventsFile        = "events.json"
	titlesFile        = "titles.json"
)

// personsFileData matches the on-disk shape of persons.json.
type personsFileData struct {
	Persons          []string          `json:"persons"`
	TitlePatterns    []string          `json:"title_patterns"`
	RolePatterns     []string          `json:"role_patterns"`
	NameFormats      []nameFormatData  `json:"name_formats"`
	Transliterations map[string]string `json:"transliterations"`
}

type nameFormatData struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// locationsFileData matches the on-disk shape of locations.json. The
// hierarchy flattens in the declared order.
type locationsFileData struct {
	Cities          []string `json:"cities"`
	States          []string `json:"states"`
	Countries       []string `json:"countries"`
	CampusLocations []string `json:"campus_locations"`
	Other           []string `json:"other"`
}

// Load reads the five catalogue files from dir and returns the assembled
// [Catalogue]. A missing or unparseable file yields an empty category and a
// logged warning; Load itself fails only on unexpected I/O errors.
func Load(dir string) (*Catalogue, error) {
	cat := &Catalogue{}

	var g errgroup.Group
	g.Go(func() error {
		p, err := loadPersons(filepath.Join(dir, personsFile))
		if err != nil {
			return err
		}
		cat.Persons = p
		return nil
	})
	g.Go(func() (err error) {
		cat.Organizations, err = loadStringCategory(filepath.Join(dir, organizationsFile), "organizations")
		return err
	})
	g.Go(func() (err error) {
		cat.Locations, err = loadLocations(filepath.Join(dir, locationsFile))
		return err
	})
	g.Go(func() (err error) {
		cat.Events, err = loadStringCategory(filepath.Join(dir, eventsFile), "events")
		return err
	})
	g.Go(func() (err error) {
		cat.Titles, err = loadStringCategory(filepath.Join(dir, titlesFile), "titles")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("entity: load catalogues from %q: %w", dir, err)
	}

	cat.buildIndex()
	return cat, nil
}

// loadPersons reads persons.json and compiles its name-format rules.
func loadPersons(path string) (PersonsCatalogue, error) {
	var data personsFileData
	ok, err := decodeCatalogueFile(path, &data)
	if err != nil || !ok {
		return PersonsCatalogue{Transliterations: map[string]string{}}, err
	}

	pc := PersonsCatalogue{
		KnownPersons:     dedupe(data.Persons),
		TitlePatterns:    dedupe(data.TitlePatterns),
		RolePatterns:     dedupe(data.RolePatterns),
		Transliterations: make(map[string]string, len(data.Transliterations)),
	}
	for variant, canonical := range data.Transliterations {
		pc.Transliterations[strings.ToLower(variant)] = canonical
	}
	for _, nf := range data.NameFormats {
		rule, err := NewRewriteRule(nf.Pattern, nf.Replacement)
		if err != nil {
			slog.Warn("skipping invalid name format rule",
				"pattern", nf.Pattern,
				"error", err)
			continue
		}
		pc.NameFormats = append(pc.NameFormats, rule)
	}
	return pc, nil
}

// loadStringCategory reads a single-key catalogue file such as
// {"organizations": ["…"]}.
func loadStringCategory(path, key string) ([]string, error) {
	var data map[string][]string
	ok, err := decodeCatalogueFile(path, &data)
	if err != nil || !ok {
		return nil, err
	}
	return dedupe(data[key]), nil
}

// loadLocations reads locations.json and flattens the hierarchy.
func loadLocations(path string) ([]string, error) {
	var data locationsFileData
	ok, err := decodeCatalogueFile(path, &data)
	if err != nil || !ok {
		return nil, err
	}
	flat := make([]string, 0,
		len(data.Cities)+len(data.States)+len(data.Countries)+len(data.CampusLocations)+len(data.Other))
	flat = append(flat, data.Cities...)
	flat = append(flat, data.States...)
	flat = append(flat, data.Countries...)
	flat = append(flat, data.CampusLocations...)
	flat = append(flat, data.Other...)
	return dedupe(flat), nil
}

// decodeCatalogueFile decodes the JSON file at path into v. Returns
// (false, nil) when the file is missing or malformed so the category loads
// empty, matching the startup contract: a bad catalogue never aborts the
// service.
func decodeCatalogueFile(path string, v any) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("catalogue file missing, category loads empty", "path", path)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	if err := decodeCatalogue(f, v); err != nil {
		slog.Warn("catalogue file unparseable, category loads empty",
			"path", path,
			"error", err)
		return false, nil
	}
	return true, nil
}

// decodeCatalogue parses catalogue JSON from r. Unknown fields are rejected
// to catch typos in hand-maintained files.
func decodeCatalogue(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode catalogue json: %w", err)
	}
	return nil
}

// dedupe removes duplicates and blank entries preserving first-seen order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		low := strings.ToLower(s)
		if _, dup := seen[low]; dup {
			continue
		}
		seen[low] = struct{}{}
		out = append(out, s)
	}
	return out
}
