package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrEthical07/trustcore/store"
)

// Score weights.
const (
	scoreCritical = 80
	scoreHigh     = 60
	scoreMedium   = 40
	scoreLow      = 20

	bonusFailedLogin  = 15
	bonusAdmin        = 10
	bonusPerIndicator = 5
	bonusScanner      = 20
	bonusFailedWithIP = 10

	maxScore = 100
)

// Detector applies a signature table to events. It is immutable and safe
// for concurrent use.
type Detector struct {
	sets   []compiledSet
	agents []string
}

// NewDetector compiles sigs. A nil table means DefaultSignatures.
func NewDetector(sigs *Signatures) *Detector {
	if sigs == nil {
		sigs = DefaultSignatures()
	}
	sets, agents := sigs.compile()
	return &Detector{sets: sets, agents: agents}
}

// Detect returns the threat indicators present in e, each at most once, in
// table order followed by the behavioral indicators.
func (d *Detector) Detect(e *store.AuditEvent) []string {
	haystack := haystack(e)
	eventType := strings.ToLower(e.EventType)

	var out []string
	for _, set := range d.sets {
		if containsAny(haystack, set.patterns) && !contains(out, set.indicator) {
			out = append(out, set.indicator)
		}
	}
	if strings.Contains(eventType, "failed_login") {
		out = append(out, IndicatorBruteForce)
	}
	if e.Category == store.CategoryAdmin && !e.Success {
		out = append(out, IndicatorPrivilegeEscalation)
	}
	return out
}

// Score computes the 0..100 risk score for e given its indicators.
func (d *Detector) Score(e *store.AuditEvent, indicators []string) int {
	score := severityBase(e.Severity)

	if store.IsFailedLogin(e) {
		score += bonusFailedLogin
	}
	if e.Category == store.CategoryAdmin {
		score += bonusAdmin
	}
	score += bonusPerIndicator * len(indicators)
	if d.IsScanner(e.UserAgent) {
		score += bonusScanner
	}
	if !e.Success && e.SourceIP != "" {
		score += bonusFailedWithIP
	}

	switch {
	case score > maxScore:
		return maxScore
	case score < 0:
		return 0
	}
	return score
}

// IsScanner reports whether userAgent matches a known tool signature.
func (d *Detector) IsScanner(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return containsAny(strings.ToLower(userAgent), d.agents)
}

func severityBase(s store.Severity) int {
	switch s {
	case store.SeverityCritical:
		return scoreCritical
	case store.SeverityHigh:
		return scoreHigh
	case store.SeverityMedium:
		return scoreMedium
	case store.SeverityLow:
		return scoreLow
	}
	return 0
}

// haystack is the lowercased event type followed by the serialized details.
func haystack(e *store.AuditEvent) string {
	var b bytes.Buffer
	b.WriteString(e.EventType)
	b.WriteByte(' ')

	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.ActionDetails); err != nil {
		// Unserializable values still get scanned through their string form.
		for k, v := range e.ActionDetails {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(fmt.Sprint(v))
			b.WriteByte(' ')
		}
	}
	return strings.ToLower(b.String())
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
