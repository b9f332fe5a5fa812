package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one reusable instruction block a loop can inject into its prompt.
// Definitions live as markdown files with a YAML frontmatter header.
type Skill struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags" yaml:"tags"`
	Hats        []string `json:"hats" yaml:"hats"`
	AutoInject  bool     `json:"auto_inject" yaml:"auto_inject"`

	path string
}

// DiscoverSkills scans dir for *.md skill definitions. Files without a
// parseable frontmatter block fall back to the file stem as the name.
func DiscoverSkills(dir string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		skill := parseSkillFile(full)
		if skill.Name == "" {
			skill.Name = strings.TrimSuffix(entry.Name(), ".md")
		}
		skill.path = full
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// FindSkill returns the named skill from dir.
func FindSkill(dir, name string) (Skill, bool) {
	for _, s := range DiscoverSkills(dir) {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// LoadSkillContent returns the skill body (frontmatter stripped) wrapped in
// a <skill> tag so it can be spliced straight into a prompt.
func LoadSkillContent(dir, name string) (string, error) {
	skill, ok := FindSkill(dir, name)
	if !ok {
		return "", fmt.Errorf("skill %q not found", name)
	}
	data, err := os.ReadFile(skill.path)
	if err != nil {
		return "", err
	}
	body := stripFrontmatter(string(data))
	return fmt.Sprintf("<skill name=%q>\n%s\n</skill>", skill.Name, strings.TrimSpace(body)), nil
}

func parseSkillFile(path string) Skill {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}
	}
	header, _ := splitFrontmatter(string(data))
	if header == "" {
		return Skill{}
	}
	var skill Skill
	if err := yaml.Unmarshal([]byte(header), &skill); err != nil {
		return Skill{}
	}
	return skill
}

func stripFrontmatter(content string) string {
	_, body := splitFrontmatter(content)
	return body
}

// splitFrontmatter separates a "---" delimited YAML header from the body.
// Content without a header yields ("", content).
func splitFrontmatter(content string) (header, body string) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return "", content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return "", content
}
