package insights

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var DefaultTaxonomyYAML []byte

type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy holds the topic clusters and stop words the extractor works with.
type Taxonomy struct {
	Topics    []Topic  `yaml:"topics"`
	StopWords []string `yaml:"stop_words"`

	stopSet map[string]struct{}
}

// LoadTaxonomy reads a taxonomy file, or the embedded default when path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data := DefaultTaxonomyYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading taxonomy: %w", err)
		}
	}
	return ParseTaxonomy(data)
}

func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}
	if len(t.Topics) == 0 {
		return nil, fmt.Errorf("taxonomy defines no topics")
	}

	t.stopSet = make(map[string]struct{}, len(t.StopWords))
	for _, w := range t.StopWords {
		t.stopSet[w] = struct{}{}
	}
	return &t, nil
}

func (t *Taxonomy) isStopWord(w string) bool {
	_, ok := t.stopSet[w]
	return ok
}
