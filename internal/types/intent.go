package types

import "strings"

type Intent string

const (
	IntentText          Intent = "text"
	IntentFindImage     Intent = "find_image"
	IntentGenerateChart Intent = "generate_chart"
	IntentGenerateImage Intent = "generate_image"
)

// ParseIntent normalizes a raw label. Surrounding quotes, punctuation and case are ignored.
func ParseIntent(s string) (Intent, bool) {
	label := strings.ToLower(strings.TrimSpace(s))
	label = strings.Trim(label, "\"'`.!,;: \n\t")
	switch Intent(label) {
	case IntentText, IntentFindImage, IntentGenerateChart, IntentGenerateImage:
		return Intent(label), true
	default:
		return "", false
	}
}
