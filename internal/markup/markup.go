// Package markup converts plain chat text into safe rich HTML and back.
//
// Format runs a fixed sequence of passes over already HTML-escaped input:
// autolinked URLs, backslash escapes, bold, underline, italic, then
// mentions. Escape handling uses zero-width placeholders so that earlier
// passes can protect characters from later ones; Unformat reverses the
// transformation for markup that Format itself produced.
package markup

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// marker starts a placeholder: U+200C ZERO WIDTH NON-JOINER, a rune that
// never appears in escaped chat text. A placeholder is marker + decimal
// character code + terminator, where ";" means "re-emit with a leading
// backslash" and "]" means "re-emit the bare character".
const marker = "\u200C"

const (
	keepTerminator = ";"
	dropTerminator = "]"
)

// dropUnderscore protects a literal underscore from the underline and
// italic passes without keeping a backslash for it.
var dropUnderscore = marker + strconv.Itoa('_') + dropTerminator

// keepBackslash encodes a literal backslash produced by a doubled escape.
var keepBackslash = marker + strconv.Itoa('\\') + keepTerminator

var (
	urlRe         = regexp.MustCompile(`https?://(?:[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?\.)+[A-Za-z0-9][A-Za-z0-9-]{0,61}[^ ]*`)
	escapeRe      = regexp.MustCompile(`(?s)\\.`)
	boldRe        = regexp.MustCompile(`\*\*[^*]+\*\*`)
	underlineRe   = regexp.MustCompile(`__[^_]+__`)
	italicRe      = regexp.MustCompile(`_[^_]+_`)
	mentionRe     = regexp.MustCompile(`@[^ ]+`)
	placeholderRe = regexp.MustCompile(marker + `[0-9]+[;\]]`)
)

// Member is a roster entry a mention can resolve to.
type Member struct {
	Admin bool
}

// Roster resolves usernames for the mention pass. Lookups are exact: a
// mention of an unknown name stays literal text.
type Roster interface {
	Member(username string) (Member, bool)
}

// RosterFunc adapts a function to the Roster interface.
type RosterFunc func(username string) (Member, bool)

func (f RosterFunc) Member(username string) (Member, bool) { return f(username) }

// NoRoster resolves nothing; every mention stays literal.
var NoRoster = RosterFunc(func(string) (Member, bool) { return Member{}, false })

// Format turns escaped plain text into rich markup. The input must already
// be HTML-escaped (see EscapeHTML); Format only introduces tags of its own.
func Format(content string, roster Roster) string {
	if roster == nil {
		roster = NoRoster
	}

	// Autolink URLs. Underscores inside the URL and inside the anchor's
	// target attribute are placeholder-protected so the underline and
	// italic passes cannot split a link; backslashes become forward
	// slashes.
	content = urlRe.ReplaceAllStringFunc(content, func(match string) string {
		match = strings.ReplaceAll(match, "_", dropUnderscore)
		match = strings.ReplaceAll(match, `\`, "/")
		return `<a class="link" target="` + dropUnderscore + `blank" href="` + match + `">` + match + `</a>`
	})

	// A doubled backslash encodes one literal backslash. Collapsing it
	// first guarantees no two backslashes remain adjacent, so the escape
	// pass below needs no lookbehind.
	content = strings.ReplaceAll(content, `\\`, keepBackslash)

	// Every remaining \X escapes X from the styling passes.
	content = escapeRe.ReplaceAllStringFunc(content, func(match string) string {
		r, _ := utf8.DecodeRuneInString(match[1:])
		return marker + strconv.Itoa(int(r)) + keepTerminator
	})

	content = boldRe.ReplaceAllStringFunc(content, func(match string) string {
		return "<b>" + match[2:len(match)-2] + "</b>"
	})
	content = underlineRe.ReplaceAllStringFunc(content, func(match string) string {
		return "<u>" + match[2:len(match)-2] + "</u>"
	})
	content = italicRe.ReplaceAllStringFunc(content, func(match string) string {
		return "<i>" + match[1:len(match)-1] + "</i>"
	})

	content = mentionRe.ReplaceAllStringFunc(content, func(match string) string {
		member, ok := roster.Member(match[1:])
		if !ok {
			return match
		}
		class := "tag"
		if member.Admin {
			class = "tag admin"
		}
		return `<span class="` + class + `">` + match + `</span>`
	})

	// Resolve placeholders: ";" keeps the marker so Unformat can restore
	// the backslash, "]" emits the bare character.
	content = placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		code, err := strconv.Atoi(match[len(marker) : len(match)-1])
		if err != nil {
			return match
		}
		ch := string(rune(code))
		if strings.HasSuffix(match, dropTerminator) {
			return ch
		}
		return marker + ch
	})

	return content
}

// tagWrappers lists the supported tags in strip priority order with the
// delimiter that produced them. Anchors and mention spans carry no
// delimiter; stripping them leaves the inner text.
var tagWrappers = []struct {
	tag     string
	wrapper string
	re      *regexp.Regexp
}{
	{"a", "", regexp.MustCompile(`<a[^>]*>[^>]*</a>`)},
	{"span", "", regexp.MustCompile(`<span[^>]*>[^>]*</span>`)},
	{"b", "**", regexp.MustCompile(`<b[^>]*>[^>]*</b>`)},
	{"u", "__", regexp.MustCompile(`<u[^>]*>[^>]*</u>`)},
	{"i", "_", regexp.MustCompile(`<i[^>]*>[^>]*</i>`)},
}

// Unformat reverts markup produced by Format back to delimiter text. It is
// only an inverse for Format's own output, not arbitrary HTML.
func Unformat(html string) string {
	html = strings.ReplaceAll(html, "<br>", "\n")

	for _, tw := range tagWrappers {
		html = tw.re.ReplaceAllStringFunc(html, func(match string) string {
			inner := match[strings.Index(match, ">")+1 : strings.LastIndex(match, "<")]
			return tw.wrapper + inner + tw.wrapper
		})
	}

	return strings.ReplaceAll(html, marker, `\`)
}

var htmlUnsafeRe = regexp.MustCompile("[\u00A0-\u9999<>&]")

// EscapeHTML encodes markup-significant and non-ASCII characters as numeric
// entities and turns newlines into <br>, matching what Format expects as
// input.
func EscapeHTML(raw string) string {
	escaped := htmlUnsafeRe.ReplaceAllStringFunc(raw, func(m string) string {
		r, _ := utf8.DecodeRuneInString(m)
		return "&#" + strconv.Itoa(int(r)) + ";"
	})
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

var entityRe = regexp.MustCompile(`&#[0-9]+;`)

// UnescapeHTML decodes the numeric entities EscapeHTML produces.
func UnescapeHTML(html string) string {
	return entityRe.ReplaceAllStringFunc(html, func(m string) string {
		code, err := strconv.Atoi(m[2 : len(m)-1])
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}
