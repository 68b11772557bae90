// Package render prints EverWalk data for the CLI as plain text, JSON, or a
// JSONPath selection of the JSON form.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/yalp/jsonpath"

	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/progress"
)

// EmptyPets is printed when the user has no pets.
const EmptyPets = "No family registered yet."

// Format selects the output form.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates s. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown output format %q (want text or json)", models.ErrInvalidInput, s)
}

// Renderer writes values to w.
type Renderer struct {
	w        io.Writer
	format   Format
	jsonPath string
}

// New returns a Renderer. A non-empty jsonPath implies JSON output filtered
// through the expression, e.g. "$[*].name".
func New(w io.Writer, format Format, jsonPath string) *Renderer {
	jsonPath = strings.TrimSpace(jsonPath)
	if jsonPath != "" {
		format = FormatJSON
	}
	return &Renderer{w: w, format: format, jsonPath: jsonPath}
}

// JSON reports whether the renderer emits JSON.
func (r *Renderer) JSON() bool { return r.format == FormatJSON }

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// Pets prints a pet list.
func (r *Renderer) Pets(pets []models.Pet) error {
	if r.JSON() {
		return r.json(nonNil(pets))
	}
	if len(pets) == 0 {
		return r.line(EmptyPets)
	}
	r.printf("\n Family (%d)\n", len(pets))
	for _, p := range pets {
		species := p.Species
		if species == "" {
			species = "-"
		}
		r.printf("\n [%d] %s (%s)\n", p.ID, p.Name, species)
		if p.MemorialDate != "" {
			r.printf("     Memorial: %s\n", p.MemorialDate)
		}
		if p.PrimaryImageURL != "" {
			r.printf("     Photo: %s\n", p.PrimaryImageURL)
		}
	}
	return nil
}

// Pet prints one pet in full.
func (r *Renderer) Pet(p *models.Pet) error {
	if r.JSON() {
		return r.json(p)
	}
	r.printf("%s (#%d)\n", p.Name, p.ID)
	if p.Species != "" {
		r.printf("  Species:  %s\n", p.Species)
	}
	if p.MemorialDate != "" {
		r.printf("  Memorial: %s\n", p.MemorialDate)
	}
	for i, u := range p.ImageURLs {
		r.printf("  Image %d:  %s\n", i+1, u)
	}
	if p.AIDescription != "" {
		r.printf("\n%s\n", p.AIDescription)
	}
	return nil
}

// Videos prints finished videos.
func (r *Renderer) Videos(videos []models.Video) error {
	if r.JSON() {
		return r.json(nonNil(videos))
	}
	if len(videos) == 0 {
		return r.line("No videos yet.")
	}
	for _, v := range videos {
		r.printf(" [%d] %s %s (%ds) %s\n", v.ID, strings.ToLower(string(v.InteractionType)), day(v.CreatedAt), v.DurationSeconds, v.VideoURL)
	}
	return nil
}

// Job prints a generation job.
func (r *Renderer) Job(j *models.VideoJob) error {
	if r.JSON() {
		return r.json(j)
	}
	r.printf("Job %d: %s %s %d%%\n", j.ID, strings.ToLower(string(j.InteractionType)), j.Status, j.ProgressPercent)
	if j.ErrorMessage != "" {
		r.printf("  Error: %s\n", j.ErrorMessage)
	}
	return nil
}

// Progress prints one progress event as a single line.
func (r *Renderer) Progress(ev progress.Event) error {
	if r.JSON() {
		out := map[string]any{
			"kind":    ev.Kind.String(),
			"percent": ev.Percent,
			"status":  ev.Status,
			"message": ev.Message,
		}
		if ev.Err != nil {
			out["error"] = ev.Err.Error()
		}
		return r.json(out)
	}
	switch ev.Kind {
	case progress.KindCompleted:
		return r.line("Video ready.")
	case progress.KindFailed:
		return r.line(fmt.Sprintf("Video generation failed: %v", ev.Err))
	}
	msg := ev.Message
	if msg != "" {
		msg = " " + msg
	}
	r.printf("[%3d%%] %s%s\n", ev.Percent, ev.Status, msg)
	return nil
}

// Messages prints a conversation in order.
func (r *Renderer) Messages(msgs []models.Message) error {
	if r.JSON() {
		return r.json(nonNil(msgs))
	}
	if len(msgs) == 0 {
		return r.line("No messages yet.")
	}
	for i := range msgs {
		r.message(&msgs[i])
	}
	return nil
}

// Message prints one message.
func (r *Renderer) Message(m *models.Message) error {
	if r.JSON() {
		return r.json(m)
	}
	r.message(m)
	return nil
}

func (r *Renderer) message(m *models.Message) {
	who := "me"
	if m.SenderType == models.SenderPet {
		who = "pet"
	}
	unread := ""
	if !m.IsRead && m.SenderType == models.SenderPet {
		unread = " *"
	}
	r.printf(" [%d] %s (%s)%s: %s\n", m.ID, who, day(m.CreatedAt), unread, m.Content)
}

// Diaries prints diary summaries.
func (r *Renderer) Diaries(entries []models.DiaryEntry) error {
	if r.JSON() {
		return r.json(nonNil(entries))
	}
	if len(entries) == 0 {
		return r.line("No diary entries yet.")
	}
	for _, e := range entries {
		unread := ""
		if !e.IsRead {
			unread = " *"
		}
		r.printf(" [%d] %s  %s  %s%s\n", e.ID, day(e.CreatedAt), e.Mood.Heading(), e.Title, unread)
	}
	return nil
}

// Diary prints one diary entry in full.
func (r *Renderer) Diary(e *models.DiaryEntry) error {
	if r.JSON() {
		return r.json(e)
	}
	r.printf("%s\n%s | %s\n\n%s\n", e.Title, day(e.CreatedAt), e.Mood.Heading(), e.Content)
	return nil
}

// Count prints an unread counter.
func (r *Renderer) Count(label string, n int) error {
	if r.JSON() {
		return r.json(map[string]int{"unreadCount": n})
	}
	r.printf("%s: %d\n", label, n)
	return nil
}

// Value prints any value; text mode falls back to indented JSON.
func (r *Renderer) Value(v any) error {
	return r.json(v)
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func (r *Renderer) json(v any) error {
	if r.jsonPath != "" {
		return r.selectPath(v)
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// selectPath re-decodes v into generic JSON so the expression sees the same
// shape as the JSON output, then prints the selection. Strings are printed
// raw, one per line.
func (r *Renderer) selectPath(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	sel, err := jsonpath.Read(doc, r.jsonPath)
	if err != nil {
		return fmt.Errorf("render: jsonpath %q: %w", r.jsonPath, err)
	}

	items, ok := sel.([]any)
	if !ok {
		items = []any{sel}
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			if err := r.line(s); err != nil {
				return err
			}
			continue
		}
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		if err := r.line(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) line(s string) error {
	_, err := fmt.Fprintln(r.w, s)
	return err
}

func (r *Renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return make([]T, 0)
	}
	return s
}

// day trims an RFC3339 timestamp to its date.
func day(ts string) string {
	if len(ts) > 10 {
		return ts[:10]
	}
	return ts
}
