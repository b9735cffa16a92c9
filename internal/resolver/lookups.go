package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Item is one entry of a closed vocabulary (departments, locations,
// skills, wills). Loaded once at startup from JSON fixtures.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookups holds the closed vocabularies mentions can resolve against.
type Lookups struct {
	Departments []Item
	Locations   []Item
	Skills      []Item
	Wills       []Item
}

// LoadLookups reads the vocabulary files from dir. Missing files are
// not an error; the corresponding vocabulary is just empty.
func LoadLookups(dir string) (*Lookups, error) {
	l := &Lookups{}
	for _, f := range []struct {
		file string
		dst  *[]Item
	}{
		{"departments.json", &l.Departments},
		{"locations.json", &l.Locations},
		{"skills.json", &l.Skills},
		{"wills.json", &l.Wills},
	} {
		path := filepath.Join(dir, f.file)
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read lookup %s: %w", f.file, err)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, fmt.Errorf("parse lookup %s: %w", f.file, err)
		}
	}
	return l, nil
}

func (l *Lookups) byKind(kind string) []Item {
	switch kind {
	case "department":
		return l.Departments
	case "location":
		return l.Locations
	case "skill":
		return l.Skills
	case "will":
		return l.Wills
	}
	return nil
}
