package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/quality"
	"github.com/dukex/inkwell/pkg/template"
)

var ErrNothingToCompile = errors.New("no generated sections to compile")

var defaultFormats = []string{"markdown", "html", "txt", "json"}

// compile assembles generated sections, in run order, into a book and
// renders the requested formats. Its output carries chapter titles only so
// generated words are not counted twice.
func (e *Engine) compile(r *run, node models.Node) (nodeOutput, error) {
	config, err := template.RenderConfig(node.Config, r.templateData(node))
	if err != nil {
		return nodeOutput{}, err
	}

	book := models.BookContent{
		Title: stringOr(config, "title", stringOr(r.story, "title", stringOr(r.inputs, "title", "Untitled"))),
	}

	for _, n := range r.order {
		if n.Type != models.NodeTypeGenerate {
			continue
		}

		output, ok := r.outputs[n.ID].(map[string]any)
		if !ok {
			continue
		}

		content := contentOf(output)
		if strings.TrimSpace(content) == "" {
			continue
		}

		words := quality.WordCount(content)
		book.Sections = append(book.Sections, models.Section{
			Title:     stringOr(output, "title", n.Name),
			Content:   content,
			WordCount: words,
		})
		book.TotalWords += words
	}

	if len(book.Sections) == 0 {
		return nodeOutput{}, ErrNothingToCompile
	}

	book.TotalChapters = len(book.Sections)

	requested := stringsOf(config, "formats")
	if len(requested) == 0 {
		requested = defaultFormats
	}

	formats := make(map[string]any, len(requested))
	names := make([]any, 0, len(requested))

	for _, format := range requested {
		rendered, err := renderFormat(format, book)
		if err != nil {
			return nodeOutput{}, err
		}

		formats[format] = rendered
		names = append(names, format)
	}

	chapters := make([]any, len(book.Sections))
	for i, section := range book.Sections {
		chapters[i] = map[string]any{"number": i + 1, "title": section.Title}
	}

	bookMap, err := toMap(book)
	if err != nil {
		return nodeOutput{}, err
	}

	r.story["title"] = book.Title

	return nodeOutput{
		output: map[string]any{
			"title":         book.Title,
			"chapters":      chapters,
			"chapter_count": book.TotalChapters,
			"formats":       names,
			"book":          bookMap,
		},
		formats: formats,
	}, nil
}

func renderFormat(format string, book models.BookContent) (string, error) {
	var b strings.Builder

	switch format {
	case "markdown", "md":
		fmt.Fprintf(&b, "# %s\n", book.Title)

		for _, section := range book.Sections {
			fmt.Fprintf(&b, "\n## %s\n\n%s\n", section.Title, strings.TrimSpace(section.Content))
		}
	case "html":
		fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n<h1>%s</h1>\n",
			html.EscapeString(book.Title), html.EscapeString(book.Title))

		for _, section := range book.Sections {
			fmt.Fprintf(&b, "<section>\n<h2>%s</h2>\n", html.EscapeString(section.Title))

			for _, paragraph := range strings.Split(strings.TrimSpace(section.Content), "\n\n") {
				if paragraph = strings.TrimSpace(paragraph); paragraph != "" {
					fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(paragraph))
				}
			}

			b.WriteString("</section>\n")
		}

		b.WriteString("</body>\n</html>\n")
	case "txt", "text":
		b.WriteString(book.Title + "\n")

		for _, section := range book.Sections {
			fmt.Fprintf(&b, "\n%s\n\n%s\n", section.Title, strings.TrimSpace(section.Content))
		}
	case "json":
		data, err := json.MarshalIndent(book, "", "  ")
		if err != nil {
			return "", err
		}

		b.Write(data)
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}

	return b.String(), nil
}

// CompiledBook finds the compiled book among node outputs, whether they are
// fresh or came back from a checkpoint.
func CompiledBook(outputs map[string]any) (models.BookContent, bool) {
	for _, output := range outputs {
		m, ok := output.(map[string]any)
		if !ok {
			continue
		}

		raw, ok := m["book"]
		if !ok {
			continue
		}

		data, err := json.Marshal(raw)
		if err != nil {
			continue
		}

		var book models.BookContent
		if err := json.Unmarshal(data, &book); err == nil && len(book.Sections) > 0 {
			return book, true
		}
	}

	return models.BookContent{}, false
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]any

	return m, json.Unmarshal(data, &m)
}
