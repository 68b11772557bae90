// Package markdown writes a pet's diary as a keepsake markdown file.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-ports/everwalk/internal/models"
)

// FrontMatter is the YAML header of an exported diary.
type FrontMatter struct {
	Pet      string   `yaml:"pet"`
	PetID    int64    `yaml:"pet_id"`
	Created  string   `yaml:"created"`
	Exported string   `yaml:"exported"`
	Entries  int      `yaml:"entries"`
	Moods    []string `yaml:"moods"`
}

// FileName returns the export file name for a pet.
func FileName(petName string) string {
	return models.Slug(petName) + "-diary.md"
}

// RenderSection produces a single ### heading block for a diary entry.
func RenderSection(e *models.DiaryEntry) string {
	var sb strings.Builder
	sb.WriteString("### ")
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = "Untitled"
	}
	sb.WriteString(title)
	if e.CreatedAt != "" {
		sb.WriteString("\n*")
		sb.WriteString(e.CreatedAt)
		sb.WriteString("*")
	}
	if content := strings.TrimSpace(e.Content); content != "" {
		sb.WriteString("\n\n")
		sb.WriteString(content)
	}
	return sb.String()
}

// RenderDiary renders entries grouped under one ## heading per mood, in
// models.Moods order followed by unknown moods alphabetically. Entries inside
// a mood are newest first. created is kept in the front matter when non-empty.
func RenderDiary(pet models.Pet, entries []models.DiaryEntry, created string, exported time.Time) (string, error) {
	groups := make(map[models.Mood][]models.DiaryEntry)
	for _, e := range entries {
		groups[e.Mood] = append(groups[e.Mood], e)
	}
	moods := moodOrder(groups)

	stamp := exported.UTC().Format(time.RFC3339)
	if created == "" {
		created = stamp
	}
	fm := FrontMatter{
		Pet:      pet.Name,
		PetID:    pet.ID,
		Created:  created,
		Exported: stamp,
		Entries:  len(entries),
		Moods:    make([]string, 0, len(moods)),
	}
	for _, m := range moods {
		fm.Moods = append(fm.Moods, string(m))
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("markdown.RenderDiary: front matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n")
	sb.WriteString("\n# ")
	sb.WriteString(pet.Name)
	sb.WriteString("'s Diary\n")

	if len(entries) == 0 {
		sb.WriteString("\nNo diary entries yet.\n")
		return sb.String(), nil
	}

	for _, m := range moods {
		list := groups[m]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].CreatedAt != list[j].CreatedAt {
				return list[i].CreatedAt > list[j].CreatedAt
			}
			return list[i].ID > list[j].ID
		})
		sb.WriteString("\n## ")
		sb.WriteString(moodHeading(m))
		sb.WriteString("\n")
		for i := range list {
			sb.WriteString("\n")
			sb.WriteString(RenderSection(&list[i]))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// WriteDiary renders the diary of pet into dir/<slug>-diary.md and returns
// the file path. An earlier export's created timestamp is preserved.
func WriteDiary(dir string, pet models.Pet, entries []models.DiaryEntry, exported time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("markdown.WriteDiary: %w", err)
	}
	filePath := filepath.Join(dir, FileName(pet.Name))

	var created string
	if existing, err := os.ReadFile(filePath); err == nil {
		if fm, _, err := ParseFrontMatter(string(existing)); err == nil {
			created = fm.Created
		}
	}

	content, err := RenderDiary(pet, entries, created, exported)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil { // #nosec G306 -- diary exports do not contain secrets
		return "", fmt.Errorf("markdown.WriteDiary: %w", err)
	}
	return filePath, nil
}

// ParseFrontMatter decodes the YAML header of an exported diary and returns
// the remaining body.
func ParseFrontMatter(content string) (FrontMatter, string, error) {
	var fm FrontMatter
	header, body := splitFrontmatter(content)
	if header == "" {
		return fm, body, fmt.Errorf("markdown: no front matter")
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(header, "---\n"), "---")
	if err := yaml.Unmarshal([]byte(inner), &fm); err != nil {
		return fm, body, fmt.Errorf("markdown: front matter: %w", err)
	}
	return fm, body, nil
}

// splitFrontmatter splits YAML front-matter from the body.
// Returns ("", content) when no front-matter is detected.
func splitFrontmatter(content string) (frontmatter, body string) {
	parts := strings.SplitN(content, "---\n", 3)
	if len(parts) >= 3 && parts[0] == "" {
		return "---\n" + parts[1] + "---", parts[2]
	}
	return "", content
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func moodOrder(groups map[models.Mood][]models.DiaryEntry) []models.Mood {
	out := make([]models.Mood, 0, len(groups))
	for _, m := range models.Moods {
		if len(groups[m]) > 0 {
			out = append(out, m)
		}
	}
	var extra []models.Mood
	for m := range groups {
		if moodIndex(m) == len(models.Moods) {
			extra = append(extra, m)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func moodIndex(m models.Mood) int {
	for i, v := range models.Moods {
		if v == m {
			return i
		}
	}
	return len(models.Moods)
}

func moodHeading(m models.Mood) string {
	if m == "" {
		return "Other days"
	}
	return m.Heading()
}
