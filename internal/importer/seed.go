package importer

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/charity-directory/internal/model"
)

// seedFile is the category seed document:
//
//	categories:
//	  - code: 207
//	    name: Religious activities
type seedFile struct {
	Categories []struct {
		Code int    `yaml:"code"`
		Name string `yaml:"name"`
	} `yaml:"categories"`
}

// LoadCategorySeed parses a category seed document. Codes must be positive
// and unique, and names non-blank.
func LoadCategorySeed(r io.Reader) ([]model.Category, error) {
	var doc seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "importer: decode category seed")
	}

	seen := make(map[int]bool, len(doc.Categories))
	cats := make([]model.Category, 0, len(doc.Categories))
	for i, c := range doc.Categories {
		name := strings.TrimSpace(c.Name)
		switch {
		case c.Code <= 0:
			return nil, eris.Errorf("importer: category seed entry %d: code must be positive", i+1)
		case name == "":
			return nil, eris.Errorf("importer: category seed entry %d: name is required", i+1)
		case seen[c.Code]:
			return nil, eris.Errorf("importer: category seed entry %d: duplicate code %d", i+1, c.Code)
		}
		seen[c.Code] = true
		cats = append(cats, model.Category{Name: name, CharityCommissionID: c.Code})
	}
	return cats, nil
}
