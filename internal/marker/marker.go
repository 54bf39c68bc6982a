// Package marker locates and rewrites the value of a key inside a document.
//
// Three marker conventions are supported:
//
//	bracketed:   <!--KEY_START-->42<!--KEY_END-->
//	inline:      **42** <!--KEY-->
//	placeholder: {{KEY}}
//
// Each key must match exactly once. A missing marker is MARKER_NOT_FOUND and
// a repeated one is DUPLICATE_MARKER; neither is ever skipped silently.
package marker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
)

// Style selects the marker convention.
type Style string

const (
	StyleBracketed   Style = "bracketed"
	StyleInline      Style = "inline"
	StylePlaceholder Style = "placeholder"
)

// ParseStyle converts a configuration string into a Style.
// An empty string defaults to StyleBracketed.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StyleBracketed, nil
	case StyleBracketed, StyleInline, StylePlaceholder:
		return st, nil
	default:
		return "", fmt.Errorf("unknown marker style %q (want %s, %s or %s)", s, StyleBracketed, StyleInline, StylePlaceholder)
	}
}

// Example returns the marker a document must contain for key.
func (s Style) Example(key string) string {
	switch s {
	case StyleInline:
		return fmt.Sprintf("**0** <!--%s-->", key)
	case StylePlaceholder:
		return fmt.Sprintf("{{%s}}", key)
	default:
		return fmt.Sprintf("<!--%s_START--> ... <!--%s_END-->", key, key)
	}
}

// pattern returns the regexp for key. Submatch 1 is always the span that
// receives the value.
func (s Style) pattern(key string) (*regexp.Regexp, error) {
	k := regexp.QuoteMeta(key)
	switch s {
	case StyleBracketed:
		return regexp.MustCompile(`(?s)<!--` + k + `_START-->(.*?)<!--` + k + `_END-->`), nil
	case StyleInline:
		return regexp.MustCompile(`\*\*([^*]*)\*\*[ \t]*<!--` + k + `-->`), nil
	case StylePlaceholder:
		return regexp.MustCompile(`(\{\{` + k + `\}\})`), nil
	default:
		return nil, apperr.New(apperr.CodeInvalidConfig, "unknown marker style %q", string(s))
	}
}

// locate returns the [start, end) offsets of the value span for key.
func locate(text, key string, style Style) (int, int, error) {
	re, err := style.pattern(key)
	if err != nil {
		return 0, 0, err
	}
	matches := re.FindAllStringSubmatchIndex(text, 2)
	switch len(matches) {
	case 0:
		return 0, 0, apperr.New(apperr.CodeMarkerNotFound,
			"marker for %s not found (expected %s)", key, style.Example(key))
	case 1:
		return matches[0][2], matches[0][3], nil
	default:
		return 0, 0, apperr.New(apperr.CodeDuplicateMarker,
			"marker for %s appears more than once (expected exactly one %s)", key, style.Example(key))
	}
}

// Validate checks that text contains exactly one marker for key.
func Validate(text, key string, style Style) error {
	_, _, err := locate(text, key, style)
	return err
}

// Patch replaces the value span of key with value and returns the new text.
// Sentinels of the bracketed and inline styles are preserved; a placeholder
// is replaced as a whole.
func Patch(text, key string, value int, style Style) (string, error) {
	start, end, err := locate(text, key, style)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(text))
	b.WriteString(text[:start])
	b.WriteString(strconv.Itoa(value))
	b.WriteString(text[end:])
	return b.String(), nil
}
