package presets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hat is one role definition extracted from a preset's hats section.
type Hat struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

// presetHats is the partial preset shape we care about.
type presetHats struct {
	Hats map[string]hatDef `yaml:"hats"`
}

type hatDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DiscoverHats collects hat definitions from every preset file in dir,
// deduplicated by name (first occurrence wins) and sorted.
func DiscoverHats(dir string) []Hat {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	seen := make(map[string]Hat)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		for _, h := range hatsFromPreset(filepath.Join(dir, entry.Name())) {
			if _, ok := seen[h.Name]; !ok {
				seen[h.Name] = h
			}
		}
	}

	hats := make([]Hat, 0, len(seen))
	for _, h := range seen {
		hats = append(hats, h)
	}
	sort.Slice(hats, func(i, j int) bool { return hats[i].Name < hats[j].Name })
	return hats
}

func hatsFromPreset(path string) []Hat {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg presetHats
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil
	}

	var hats []Hat
	for key, def := range cfg.Hats {
		name := def.Name
		if name == "" {
			name = key
		}
		hats = append(hats, Hat{
			Name:        name,
			Description: def.Description,
			Emoji:       emojiFor(key),
		})
	}
	return hats
}

// emojiFor maps well-known hat names to their badge; anything else gets the
// generic hat.
func emojiFor(name string) string {
	switch strings.ToLower(name) {
	case "builder":
		return "🏗️"
	case "reviewer":
		return "👀"
	case "investigator":
		return "🔍"
	case "tester":
		return "🧪"
	case "fixer":
		return "🔧"
	case "verifier":
		return "✅"
	case "planner":
		return "📋"
	case "architect":
		return "🏛️"
	case "deployer":
		return "🚀"
	case "analyst":
		return "📊"
	case "researcher":
		return "📚"
	case "writer":
		return "✍️"
	case "designer":
		return "🎨"
	case "security":
		return "🔒"
	case "coordinator":
		return "🎯"
	default:
		return "🎩"
	}
}
