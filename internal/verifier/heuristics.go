package verifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Selector matching works over the serialized, cleaned DOM string. Selectors
// originate in LLM output, so they are sanitized (entity-decoded and
// regexp-escaped) before any pattern is built from them.

var (
	decimalEntityRegex = regexp.MustCompile(`&#([0-9]{1,7});`)
	hexEntityRegex     = regexp.MustCompile(`&#[xX]([0-9a-fA-F]{1,6});`)
)

var namedEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&nbsp;", " ",
)

// SanitizeSelector decodes HTML entities (named, decimal and hex forms) and
// trims the result. The output is still raw text; regexp escaping happens at
// pattern-build time.
func SanitizeSelector(selector string) string {
	s := decimalEntityRegex.ReplaceAllStringFunc(selector, func(m string) string {
		sub := decimalEntityRegex.FindStringSubmatch(m)
		if code, err := strconv.Atoi(sub[1]); err == nil {
			return string(rune(code))
		}
		return m
	})
	s = hexEntityRegex.ReplaceAllStringFunc(s, func(m string) string {
		sub := hexEntityRegex.FindStringSubmatch(m)
		if code, err := strconv.ParseInt(sub[1], 16, 32); err == nil {
			return string(rune(code))
		}
		return m
	})
	return strings.TrimSpace(namedEntities.Replace(s))
}

// looksLikeNaturalLanguage reports whether the selector reads as free text
// rather than an identifier: it contains a space, or carries neither
// underscore nor hyphen.
func looksLikeNaturalLanguage(selector string) bool {
	if strings.Contains(selector, " ") {
		return true
	}
	return !strings.Contains(selector, "_") && !strings.Contains(selector, "-")
}

// elementExists runs the layered heuristic against the DOM string. A selector
// "exists" if any layer matches. Layer order is part of the contract: id,
// class with word boundaries, data-testid, name, aria-label substring,
// natural-language free text, bare tag.
func elementExists(dom, selector string) bool {
	selector = SanitizeSelector(selector)
	if selector == "" || dom == "" {
		return false
	}

	bare := strings.TrimLeft(selector, "#.")
	quoted := regexp.QuoteMeta(bare)

	layers := []string{
		`id=["']` + quoted + `["']`,
		`class=["'][^"']*\b` + quoted + `\b[^"']*["']`,
		`data-testid=["']` + quoted + `["']`,
		`name=["']` + quoted + `["']`,
		`aria-label=["'][^"']*` + quoted + `[^"']*["']`,
	}
	for _, layer := range layers {
		if matched, err := regexp.MatchString(`(?i)`+layer, dom); err == nil && matched {
			return true
		}
	}

	if looksLikeNaturalLanguage(selector) &&
		strings.Contains(strings.ToLower(dom), strings.ToLower(selector)) {
		return true
	}

	// Bare-tag fallback, last because it is the loosest layer.
	if matched, err := regexp.MatchString(`(?i)<`+quoted+`[\s/>]`, dom); err == nil && matched {
		return true
	}
	return false
}

// elementHasText checks a selector/text pair: the text must occur inside a
// heuristic window around the selector's first occurrence, or, failing that,
// anywhere in the DOM.
func elementHasText(dom, selector, text string) bool {
	selector = SanitizeSelector(selector)
	lowerDOM := strings.ToLower(dom)
	lowerText := strings.ToLower(text)

	const window = 300
	if idx := strings.Index(lowerDOM, strings.ToLower(strings.TrimLeft(selector, "#."))); idx >= 0 {
		start := idx - window
		if start < 0 {
			start = 0
		}
		end := idx + window
		if end > len(lowerDOM) {
			end = len(lowerDOM)
		}
		if strings.Contains(lowerDOM[start:end], lowerText) {
			return true
		}
	}
	return strings.Contains(lowerDOM, lowerText)
}

// attributeHasValue checks for an exact attribute=value occurrence.
func attributeHasValue(dom, attribute, value string) bool {
	pattern := `(?i)` + regexp.QuoteMeta(SanitizeSelector(attribute)) +
		`=["']` + regexp.QuoteMeta(SanitizeSelector(value)) + `["']`
	matched, err := regexp.MatchString(pattern, dom)
	return err == nil && matched
}

// implicitRoleFallbacks lists roles that also satisfy a requested role. The
// table covers containers that commonly stand in for their item roles in
// real-world markup.
var implicitRoleFallbacks = map[string][]string{
	"menuitem": {"list", "listitem"},
	"option":   {"listitem"},
	"tab":      {"listitem"},
	"dialog":   {"alertdialog"},
	"button":   {"link"},
}

// roleExists checks for a node with the given ARIA role, falling back to the
// implicit-role table when the exact role is absent.
func roleExists(dom, role string) bool {
	candidates := append([]string{role}, implicitRoleFallbacks[strings.ToLower(role)]...)
	for _, candidate := range candidates {
		pattern := `(?i)role=["']` + regexp.QuoteMeta(SanitizeSelector(candidate)) + `["']`
		if matched, err := regexp.MatchString(pattern, dom); err == nil && matched {
			return true
		}
	}
	return false
}

func clauseFailure(clause, detail string) string {
	return fmt.Sprintf("%s: %s", clause, detail)
}
