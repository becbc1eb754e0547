// Package export materializes items as a file tree, one file per item
// under a directory per primary group.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"rssel/internal/model"
	"rssel/internal/textnorm"
)

// Export formats.
const (
	FormatMarkdown = "md"
	FormatText     = "txt"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

// Formats lists the supported formats.
var Formats = []string{FormatMarkdown, FormatText, FormatJSON, FormatHTML}

const (
	maxSlugLen = 80
	timeLayout = "2006-01-02 15:04"
)

// Writer renders items into Dir.
type Writer struct {
	Dir    string
	Format string
	// Clean empties Dir before the first write.
	Clean bool
}

// Write renders every item and returns the ids written. A failing item does
// not stop the others; failures are joined into the returned error.
func (w *Writer) Write(items []model.Item, tags map[int64][]string) ([]int64, error) {
	if !validFormat(w.Format) {
		return nil, fmt.Errorf("unknown export format %q", w.Format)
	}
	if w.Clean {
		if err := os.RemoveAll(w.Dir); err != nil {
			return nil, fmt.Errorf("clean export dir: %w", err)
		}
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	var written []int64
	var errs []error
	for _, it := range items {
		if err := w.writeItem(it, tags[it.ID]); err != nil {
			errs = append(errs, fmt.Errorf("export item %d: %w", it.ID, err))
			continue
		}
		written = append(written, it.ID)
	}
	return written, errors.Join(errs...)
}

func (w *Writer) writeItem(it model.Item, tags []string) error {
	path := w.ExpectedPath(it)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := Render(it, tags, w.Format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpectedPath returns where it is written: <dir>/<group>/<id>-<slug>.<ext>.
func (w *Writer) ExpectedPath(it model.Item) string {
	name := fmt.Sprintf("%06d-%s.%s", it.ID, Slugify(it.Title), w.Format)
	return filepath.Join(w.Dir, groupDir(it.Group), name)
}

func groupDir(g string) string {
	g = strings.TrimSpace(strings.NewReplacer("/", "-", `\`, "-").Replace(g))
	if g == "" || g == "." || g == ".." {
		return model.UngroupedLabel
	}
	return g
}

func validFormat(f string) bool {
	return slices.Contains(Formats, f)
}

var (
	slugDrop   = regexp.MustCompile(`[^a-z0-9\-\s_]+`)
	slugSpaces = regexp.MustCompile(`[\s_]+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slugify reduces text to a short file-name-safe form, "item" when nothing
// usable is left.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = slugDrop.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = strings.Trim(slugDashes.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "item"
	}
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return s
}

// Render produces the file body of one item in format.
func Render(it model.Item, tags []string, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(it, tags)
	case FormatHTML:
		return renderHTML(it, tags)
	case FormatMarkdown, FormatText:
		return renderText(it, tags, format == FormatMarkdown), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func published(it model.Item) string {
	if it.Published.IsZero() {
		return ""
	}
	return it.Published.UTC().Format(timeLayout)
}

func renderText(it model.Item, tags []string, markdown bool) []byte {
	var b strings.Builder
	if markdown {
		b.WriteString("# ")
	}
	b.WriteString(it.Title)
	b.WriteString("\n")
	fmt.Fprintf(&b, "[%s] %s\n", it.Group, published(it))
	b.WriteString(it.Link + "\n")
	if len(tags) > 0 {
		b.WriteString("Tags: " + strings.Join(tags, ", "))
	}
	b.WriteString("\n\n")
	b.WriteString(textnorm.HTMLToText(it.Body()))
	b.WriteString("\n")
	return []byte(b.String())
}

type jsonItem struct {
	ID        int64    `json:"id"`
	Group     string   `json:"group"`
	Title     string   `json:"title"`
	Link      string   `json:"link"`
	Published string   `json:"published"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Text      string   `json:"text"`
}

func renderJSON(it model.Item, tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.MarshalIndent(jsonItem{
		ID:        it.ID,
		Group:     it.Group,
		Title:     it.Title,
		Link:      it.Link,
		Published: published(it),
		Summary:   it.Summary,
		Content:   it.Content,
		Tags:      tags,
		Text:      textnorm.HTMLToText(it.Body()),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

var (
	headerMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	sanitizer      = bluemonday.UGCPolicy()
)

func renderHTML(it model.Item, tags []string) ([]byte, error) {
	var header strings.Builder
	if it.Title != "" {
		fmt.Fprintf(&header, "# %s\n\n", escapeMarkdown(it.Title))
	}
	meta := strings.TrimSpace(fmt.Sprintf("[%s] %s", it.Group, published(it)))
	fmt.Fprintf(&header, "*%s*\n\n", escapeMarkdown(meta))
	if it.Link != "" {
		fmt.Fprintf(&header, "<%s>\n\n", it.Link)
	}
	if len(tags) > 0 {
		fmt.Fprintf(&header, "**Tags:** %s\n", escapeMarkdown(strings.Join(tags, ", ")))
	}

	var out bytes.Buffer
	out.WriteString("<!doctype html>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n", htmlEscaper.Replace(it.Title))
	if err := headerMarkdown.Convert([]byte(header.String()), &out); err != nil {
		return nil, fmt.Errorf("render header: %w", err)
	}
	out.WriteString(sanitizer.Sanitize(it.Body()))
	out.WriteString("\n")
	return out.Bytes(), nil
}

var (
	markdownEscaper = strings.NewReplacer(
		`\`, `\\`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "<", `\<`, "`", "\\`", "#", `\#`,
	)
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
