package chat

import (
	"strings"

	"github.com/af-corp/chorus/internal/retrieval"
)

// FormatPassages renders passages as "[filename]\ntext" blocks separated by a blank line.
func FormatPassages(passages []retrieval.Passage) string {
	blocks := make([]string, 0, len(passages))
	for _, p := range passages {
		blocks = append(blocks, "["+p.Filename()+"]\n"+p.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// AssembleContext prefixes retrieved passages with the bot's instructions.
// The "Relevant Information" section is omitted when nothing was retrieved.
func AssembleContext(instructions string, passages []retrieval.Passage) string {
	var b strings.Builder
	b.WriteString("Bot Instructions:\n")
	b.WriteString(instructions)
	b.WriteString("\n\n")
	if text := FormatPassages(passages); text != "" {
		b.WriteString("Relevant Information:\n")
		b.WriteString(text)
	}
	return b.String()
}
