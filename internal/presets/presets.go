// Package presets lists the reusable configuration a loop runner consumes:
// preset configs (*.yml), prompt files (*.md) and skill definitions.
package presets

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const previewLength = 50

// Preset is one runner config file under the presets directory.
type Preset struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Prompt is one markdown prompt file.
type Prompt struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Preview string `json:"preview"`
}

// DiscoverPresets scans dir for .yml/.yaml files. The description is the
// first comment line, if any. A missing directory is an empty list.
func DiscoverPresets(dir string) []Preset {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var presets []Preset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		presets = append(presets, Preset{
			Name:        strings.TrimSuffix(entry.Name(), ext),
			Path:        full,
			Description: commentDescription(full),
		})
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets
}

// DiscoverPrompts walks dir recursively for .md files, previewing the first
// line of each.
func DiscoverPrompts(dir string) []Prompt {
	var prompts []Prompt
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		prompts = append(prompts, Prompt{
			Name:    strings.TrimSuffix(filepath.Base(path), ".md"),
			Path:    path,
			Preview: firstLinePreview(path),
		})
		return nil
	})
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Path < prompts[j].Path })
	return prompts
}

// ReadPrompt returns the content of a prompt file, refusing paths that
// escape the prompts directory.
func ReadPrompt(dir, rel string) (string, error) {
	return readUnder(dir, rel)
}

// ReadPreset returns the raw content of a preset config file, with the same
// traversal guard.
func ReadPreset(dir, rel string) (string, error) {
	return readUnder(dir, rel)
}

func readUnder(dir, rel string) (string, error) {
	full := filepath.Join(dir, rel)
	cleanDir := filepath.Clean(dir) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(full), cleanDir) {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// commentDescription returns the text of the first "#" comment line.
func commentDescription(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
		return ""
	}
	return ""
}

func firstLinePreview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if len(line) > previewLength {
			return line[:previewLength] + "..."
		}
		return line
	}
	return ""
}
