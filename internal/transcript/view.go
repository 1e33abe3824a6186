// Package transcript renders stored segments as readable text.
package transcript

import (
	"strings"

	"github.com/snarg/tr-translate/internal/database"
)

// ParagraphGap is the silence between two segments, in milliseconds, that
// starts a new paragraph in the plain-text view.
const ParagraphGap = 2000

// View selects which rendering Render produces.
type View string

const (
	ViewText        View = "text"
	ViewTranslation View = "translation"
)

// ParseView maps a query value to a View. Unknown values are rejected.
func ParseView(s string) (View, bool) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewText:
		return ViewText, true
	case ViewTranslation:
		return ViewTranslation, true
	}
	return "", false
}

// Render produces the requested view of segments, which must be in start order.
func Render(v View, segments []database.Segment) string {
	if v == ViewTranslation {
		return TranslationText(segments)
	}
	return PlainText(segments)
}

// PlainText joins segment texts with spaces, inserting a blank line wherever
// a segment starts at least ParagraphGap ms after the previous one ended.
func PlainText(segments []database.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		text := strings.TrimSpace(s.Text)
		if i > 0 {
			if s.StartTime-segments[i-1].EndTime >= ParagraphGap {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String())
}

// TranslationText joins the trimmed translations with single spaces.
// Segments without a translation contribute an empty entry.
func TranslationText(segments []database.Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = strings.TrimSpace(s.Translation)
	}
	return strings.Join(parts, " ")
}
