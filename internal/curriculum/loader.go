package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// catalogSchema describes a YAML catalog document. Sub-topic guidelines are
// required because the tutor cannot run a session without them.
const catalogSchema = `{
  "type": "object",
  "required": ["curriculums"],
  "properties": {
    "curriculums": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": ["string", "integer"]},
          "name": {"type": "string", "minLength": 1},
          "level": {"type": "string"},
          "units": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "name"],
              "properties": {
                "id": {"type": ["string", "integer"]},
                "name": {"type": "string", "minLength": 1},
                "topics": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["id", "name", "order_index"],
                    "properties": {
                      "id": {"type": ["string", "integer"]},
                      "name": {"type": "string", "minLength": 1},
                      "order_index": {"type": "integer"},
                      "sub_topics": {
                        "type": "array",
                        "items": {
                          "type": "object",
                          "required": ["id", "name", "order_index", "content_guidelines"],
                          "properties": {
                            "id": {"type": ["string", "integer"]},
                            "name": {"type": "string", "minLength": 1},
                            "order_index": {"type": "integer"},
                            "content_guidelines": {"type": "string"}
                          }
                        }
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// Catalog is the nested document form of a curriculum, as authored in YAML.
type Catalog struct {
	Curriculums []CatalogCurriculum `yaml:"curriculums"`
}

// CatalogCurriculum is a curriculum with its units inline.
type CatalogCurriculum struct {
	ID    string        `yaml:"id"`
	Name  string        `yaml:"name"`
	Level string        `yaml:"level"`
	Units []CatalogUnit `yaml:"units"`
}

// CatalogUnit is a unit with its topics inline.
type CatalogUnit struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Topics []CatalogTopic `yaml:"topics"`
}

// CatalogTopic is a topic with its sub-topics inline.
type CatalogTopic struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	OrderIndex int        `yaml:"order_index"`
	SubTopics  []SubTopic `yaml:"sub_topics"`
}

// Records flattens the catalog, filling in the parent ids.
func (c Catalog) Records() Records {
	var r Records
	for _, cur := range c.Curriculums {
		r.Curriculums = append(r.Curriculums, Curriculum{ID: cur.ID, Name: cur.Name, Level: cur.Level})
		for _, u := range cur.Units {
			r.Units = append(r.Units, Unit{ID: u.ID, Name: u.Name, CurriculumID: cur.ID})
			for _, t := range u.Topics {
				r.Topics = append(r.Topics, Topic{ID: t.ID, Name: t.Name, OrderIndex: t.OrderIndex, UnitID: u.ID})
				for _, s := range t.SubTopics {
					s.TopicID = t.ID
					r.SubTopics = append(r.SubTopics, s)
				}
			}
		}
	}
	return r
}

// LoadCatalog reads a YAML catalog from a file, or from every .yaml/.yml file
// under a directory, and returns a repository over its contents. Each
// document is validated against the catalog schema before it is decoded.
func LoadCatalog(path string) (*MemoryRepository, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return nil
			}
			if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking catalog dir: %w", err)
		}
	} else {
		files = []string{path}
	}

	var merged Catalog
	for _, f := range files {
		c, err := loadCatalogFile(f)
		if err != nil {
			return nil, err
		}
		merged.Curriculums = append(merged.Curriculums, c.Curriculums...)
	}

	repo := NewMemoryRepository(merged.Records())
	cur, units, topics, subs := repo.Counts()
	slog.Info("curriculum catalog loaded",
		"files", len(files),
		"curriculums", cur,
		"units", units,
		"topics", topics,
		"sub_topics", subs,
	)
	return repo, nil
}

func loadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := validateCatalog(data); err != nil {
		return Catalog{}, fmt.Errorf("invalid catalog %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return c, nil
}

func validateCatalog(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("empty document")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(catalogSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validating schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
