// Package markup turns stored chat text into display markup.
//
// Format is applied when messages are read for display, never before they
// are stored: it is not idempotent on plain text.
package markup

import (
	"regexp"
	"strings"
)

var (
	boldPattern = regexp.MustCompile(`\*\*(.*?)\*\*`)
	linePattern = regexp.MustCompile(`([^\n]+)`)
)

// Format converts **bold** spans and non-empty lines into HTML. Text that
// already carries tags is wrapped once in a message-content container and
// left otherwise untouched.
func Format(text string) string {
	if HasMarkup(text) {
		return `<div class="message-content">` + text + `</div>`
	}

	text = boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	text = strings.ReplaceAll(text, "*", "")
	return linePattern.ReplaceAllString(text, "<p>$1</p>")
}

// HasMarkup reports whether text looks pre-rendered.
func HasMarkup(text string) bool {
	return strings.Contains(text, "<") && strings.Contains(text, ">")
}
