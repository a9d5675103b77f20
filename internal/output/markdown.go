package output

import (
	"github.com/dogshouse/dogshouse/internal/core"
)

// MarkdownFormatter renders dogs as a markdown table.
type MarkdownFormatter struct{}

// FormatDogs renders dogs as Markdown.
func (f *MarkdownFormatter) FormatDogs(dogs []core.Dog) (string, error) {
	if len(dogs) == 0 {
		return "_" + emptyDogsMessage + "_", nil
	}
	return dogsTable(dogs).RenderMarkdown(), nil
}
