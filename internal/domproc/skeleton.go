package domproc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// SkeletonResult is the size-reduced DOM plus its observability stats.
type SkeletonResult struct {
	Skeleton     string  `json:"skeleton"`
	ElementCount int     `json:"element_count"`
	// CompressionRatio is skeleton size over original size.
	CompressionRatio float64 `json:"compression_ratio"`
}

// Tags whose subtree is pruned regardless of interactivity.
var discardTags = map[string]bool{
	"script":   true,
	"style":    true,
	"svg":      true,
	"head":     true,
	"template": true,
	"noscript": true,
	"meta":     true,
	"link":     true,
}

// Tags that are interactive by themselves.
var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"option":   true,
	"label":    true,
}

// ARIA roles that mark a node as interactive.
var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"checkbox":         true,
	"radio":            true,
	"combobox":         true,
	"listbox":          true,
	"menu":             true,
	"menubar":          true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"searchbox":        true,
	"slider":           true,
	"spinbutton":       true,
	"switch":           true,
	"tab":              true,
	"textbox":          true,
	"treeitem":         true,
}

// Attributes a retained node keeps in the skeleton.
var skeletonAttrAllowList = []string{
	"id", "name", "type", "href", "value", "placeholder", "role",
	"aria-label", "title", "data-testid", "for", "action", "method",
}

// Attribute names that indicate an attached click handler.
var clickHandlerAttrs = map[string]bool{
	"onclick":       true,
	"onmousedown":   true,
	"onmouseup":     true,
	"onpointerdown": true,
}

type skelNode struct {
	tag      string
	attrs    []html.Attribute
	text     string
	children []*skelNode
}

// Skeletonize walks the DOM tree and retains only interactive nodes plus the
// structural ancestors needed to reach them. Every retained node keeps the
// attribute allow-list subset and a bounded amount of its own direct text.
func (n *Normalizer) Skeletonize(rawDOM string) (SkeletonResult, error) {
	doc, err := html.Parse(strings.NewReader(rawDOM))
	if err != nil {
		return SkeletonResult{}, fmt.Errorf("failed to parse DOM snapshot: %w", err)
	}

	count := 0
	root := n.buildSkeleton(doc, &count)

	var b strings.Builder
	if root != nil {
		for _, child := range root.children {
			renderSkeleton(&b, child)
		}
	}

	skeleton := b.String()
	ratio := 0.0
	if len(rawDOM) > 0 {
		ratio = float64(len(skeleton)) / float64(len(rawDOM))
	}

	n.logger.Debug("Skeletonized DOM snapshot",
		zap.Int("element_count", count),
		zap.Float64("compression_ratio", ratio))

	return SkeletonResult{
		Skeleton:         skeleton,
		ElementCount:     count,
		CompressionRatio: ratio,
	}, nil
}

// buildSkeleton returns the reduced form of node, or nil when neither the
// node nor any descendant is interactive. Document nodes become anonymous
// containers so their children can surface.
func (n *Normalizer) buildSkeleton(node *html.Node, count *int) *skelNode {
	switch node.Type {
	case html.DocumentNode:
		container := &skelNode{}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if kept := n.buildSkeleton(c, count); kept != nil {
				container.children = append(container.children, kept)
			}
		}
		if len(container.children) == 0 {
			return nil
		}
		return container
	case html.ElementNode:
		// Discard-tag subtrees are pruned outright, as are hidden nodes.
		if discardTags[node.Data] || isHidden(node) {
			return nil
		}

		var children []*skelNode
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if kept := n.buildSkeleton(c, count); kept != nil {
				children = append(children, kept)
			}
		}

		if !isInteractive(node) && len(children) == 0 {
			return nil
		}

		*count++
		return &skelNode{
			tag:      node.Data,
			attrs:    filterAttrs(node.Attr),
			text:     truncateText(directText(node), n.cfg.MaxTextLength),
			children: children,
		}
	default:
		return nil
	}
}

// isInteractive applies the fixed retention rules: interactive tag,
// interactive ARIA role, non-negative tabindex, contenteditable, or a
// click-handler-style attribute.
func isInteractive(node *html.Node) bool {
	if interactiveTags[node.Data] {
		return true
	}
	for _, attr := range node.Attr {
		key := strings.ToLower(attr.Key)
		switch {
		case key == "role" && interactiveRoles[strings.ToLower(attr.Val)]:
			return true
		case key == "tabindex":
			if idx, err := strconv.Atoi(strings.TrimSpace(attr.Val)); err == nil && idx >= 0 {
				return true
			}
		case key == "contenteditable" && strings.EqualFold(attr.Val, "true"):
			return true
		case clickHandlerAttrs[key]:
			return true
		}
	}
	return false
}

// isHidden reports nodes excluded from the skeleton because a user cannot
// interact with them.
func isHidden(node *html.Node) bool {
	for _, attr := range node.Attr {
		key := strings.ToLower(attr.Key)
		val := strings.ToLower(attr.Val)
		switch key {
		case "hidden":
			return true
		case "aria-hidden":
			if val == "true" {
				return true
			}
		case "style":
			compact := strings.ReplaceAll(val, " ", "")
			if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
				return true
			}
		case "type":
			if node.Data == "input" && val == "hidden" {
				return true
			}
		}
	}
	return false
}

func filterAttrs(attrs []html.Attribute) []html.Attribute {
	var kept []html.Attribute
	for _, allowed := range skeletonAttrAllowList {
		for _, attr := range attrs {
			if strings.EqualFold(attr.Key, allowed) {
				kept = append(kept, html.Attribute{Key: allowed, Val: attr.Val})
				break
			}
		}
	}
	return kept
}

// directText collects the node's own text children, not descendant text.
func directText(node *html.Node) string {
	var parts []string
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if trimmed := strings.TrimSpace(c.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	return whitespaceRegex.ReplaceAllString(strings.Join(parts, " "), " ")
}

// truncateText caps text at maxLen bytes, backing off to a rune boundary so
// the cut never emits invalid UTF-8.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func renderSkeleton(b *strings.Builder, node *skelNode) {
	// Anonymous containers render children only.
	if node.tag == "" {
		for _, child := range node.children {
			renderSkeleton(b, child)
		}
		return
	}

	b.WriteByte('<')
	b.WriteString(node.tag)
	for _, attr := range node.attrs {
		b.WriteByte(' ')
		b.WriteString(attr.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(attr.Val))
		b.WriteByte('"')
	}

	if node.text == "" && len(node.children) == 0 {
		b.WriteString("/>")
		return
	}

	b.WriteByte('>')
	if node.text != "" {
		b.WriteString(html.EscapeString(node.text))
	}
	for _, child := range node.children {
		renderSkeleton(b, child)
	}
	b.WriteString("</")
	b.WriteString(node.tag)
	b.WriteByte('>')
}
