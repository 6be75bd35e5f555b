package watermark

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
)

// Priority assigned to the synthetic watermark rule so it sorts after every
// real steering rule.
const watermarkRulePriority = 9999

var (
	documentIDPattern = regexp.MustCompile(`Watermark ID: ([a-f0-9-]+)`)
	ruleIDPattern     = regexp.MustCompile(`\| ID: ([a-f0-9-]+)`)
)

// Engine stamps served content with a unique, attributable provenance
// marker. Disabling the engine skips embedding only; ids are still minted
// per response so every access-log entry stays traceable.
type Engine struct {
	enabled bool

	// injectable clock for deterministic tests
	now func() time.Time
}

// New creates a watermark engine.
func New(enabled bool) *Engine {
	return &Engine{
		enabled: enabled,
		now:     time.Now,
	}
}

// Mint returns a globally unique watermark id.
func (e *Engine) Mint() string {
	return uuid.NewString()
}

// EmbedInDocument appends a delimited provenance block to a document and
// returns the watermarked content with the minted id. The interior of the
// original content is never touched.
func (e *Engine) EmbedInDocument(content, email, keyPrefix, contentID string) (string, string) {
	watermarkID := e.Mint()
	if !e.enabled {
		return content, watermarkID
	}

	block := fmt.Sprintf(`

---

<!-- VIZPILOT PROTOCOL WATERMARK -->
<!-- Licensed to: %s -->
<!-- API Key: %s... -->
<!-- Protocol ID: %s -->
<!-- Watermark ID: %s -->
<!-- Accessed: %sZ -->
<!--
  This content is licensed for personal use only.
  Redistribution, sharing, or commercial use is prohibited.
  Violations will be tracked and may result in account termination.
-->
`, email, keyPrefix, contentID, watermarkID, e.now().UTC().Format("2006-01-02T15:04:05"))

	return content + block, watermarkID
}

// EmbedInRuleList appends one synthetic rule carrying the provenance fields.
// Its priority places it after every real rule regardless of the list's
// ordering.
func (e *Engine) EmbedInRuleList(rules []store.SteeringRule, email, keyPrefix string) ([]store.SteeringRule, string) {
	watermarkID := e.Mint()
	if !e.enabled {
		return rules, watermarkID
	}

	watermarked := make([]store.SteeringRule, len(rules), len(rules)+1)
	copy(watermarked, rules)
	watermarked = append(watermarked, store.SteeringRule{
		Content:  fmt.Sprintf("# VIZPILOT - Licensed to: %s | Key: %s | ID: %s", email, keyPrefix, watermarkID),
		Category: "watermark",
		Priority: watermarkRulePriority,
	})

	return watermarked, watermarkID
}

// ExtractID recovers a previously embedded watermark id from leaked content.
// Best-effort text matching: returns "" when no marker is found, never
// errors on malformed input. Forensic attribution only, not a security
// boundary.
func ExtractID(content string) string {
	if m := documentIDPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if m := ruleIDPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}
