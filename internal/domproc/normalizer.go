package domproc

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/config"
)

// Normalizer reduces raw DOM snapshots to compact, comparable forms. Cleaning
// is fully deterministic: the same raw DOM always cleans to the same string,
// because the resulting hash is used for before/after equality checks.
type Normalizer struct {
	cfg    config.DOMConfig
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer. Zero config values fall back to the
// documented defaults (100-char text cap, 50,000-byte hash budget).
func NewNormalizer(cfg config.DOMConfig, logger *zap.Logger) *Normalizer {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 100
	}
	if cfg.HashByteBudget <= 0 {
		cfg.HashByteBudget = 50000
	}
	return &Normalizer{
		cfg:    cfg,
		logger: logger.Named("domproc"),
	}
}

var (
	scriptBlockRegex = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleBlockRegex  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	svgBlockRegex    = regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg>|<svg\b[^>]*/>`)
	base64Regex      = regexp.MustCompile(`data:[a-zA-Z0-9/+.-]+;base64,[A-Za-z0-9+/=]+`)
	dataAttrRegex    = regexp.MustCompile(`\s(data-[a-zA-Z0-9-]+)\s*=\s*("[^"]*"|'[^']*')`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// dataAttrAllowList is the set of data-* attributes that carry interaction
// state and therefore survive cleaning.
var dataAttrAllowList = map[string]bool{
	"data-has-popup": true,
	"data-state":     true,
	"data-expanded":  true,
}

// Normalize strips non-semantic content from a raw DOM snapshot: script,
// style and SVG blocks, inline base64 payloads (replaced with a placeholder),
// data-* attributes outside the allow-list, and redundant whitespace.
func (n *Normalizer) Normalize(rawDOM string) string {
	cleaned := scriptBlockRegex.ReplaceAllString(rawDOM, "")
	cleaned = styleBlockRegex.ReplaceAllString(cleaned, "")
	cleaned = svgBlockRegex.ReplaceAllString(cleaned, "")
	cleaned = base64Regex.ReplaceAllString(cleaned, "data:base64-omitted")
	cleaned = dataAttrRegex.ReplaceAllStringFunc(cleaned, func(match string) string {
		sub := dataAttrRegex.FindStringSubmatch(match)
		if dataAttrAllowList[strings.ToLower(sub[1])] {
			return match
		}
		return ""
	})
	cleaned = whitespaceRegex.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// Hash digests a cleaned DOM, truncated to the configured byte budget first
// so equality reflects meaningful content rather than incidental tail noise.
// A maxBytes of zero or below uses the configured budget.
func (n *Normalizer) Hash(cleanedDOM string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = n.cfg.HashByteBudget
	}
	if len(cleanedDOM) > maxBytes {
		cleanedDOM = cleanedDOM[:maxBytes]
	}
	sum := sha256.Sum256([]byte(cleanedDOM))
	return hex.EncodeToString(sum[:])
}
