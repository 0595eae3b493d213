package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Indicator names emitted by Detect.
const (
	IndicatorSQLInjection        = "sql_injection_attempt"
	IndicatorXSS                 = "xss_attempt"
	IndicatorPathTraversal       = "path_traversal_attempt"
	IndicatorCommandInjection    = "command_injection_attempt"
	IndicatorBruteForce          = "potential_brute_force"
	IndicatorPrivilegeEscalation = "privilege_escalation_attempt"
)

// ErrInvalidSignatures is returned by LoadSignatures for unusable tables.
var ErrInvalidSignatures = errors.New("invalid signature table")

// PatternSet maps one indicator to the substrings that trigger it.
type PatternSet struct {
	Indicator string   `yaml:"indicator"`
	Patterns  []string `yaml:"patterns"`
}

// Signatures is the detection table.
type Signatures struct {
	Patterns      []PatternSet `yaml:"patterns"`
	ScannerAgents []string     `yaml:"scanner_agents"`
}

// DefaultSignatures returns the built-in table. The result is a fresh copy.
func DefaultSignatures() *Signatures {
	return &Signatures{
		Patterns: []PatternSet{
			{Indicator: IndicatorSQLInjection, Patterns: []string{
				"union select", "drop table", "insert into", "delete from",
			}},
			{Indicator: IndicatorXSS, Patterns: []string{
				"<script", "javascript:", "onerror=", "onload=",
			}},
			{Indicator: IndicatorPathTraversal, Patterns: []string{
				"../", `..\`, "%2e%2e%2f", "%2e%2e/", "..%2f", "%2e%2e%5c", "..%5c",
			}},
			{Indicator: IndicatorCommandInjection, Patterns: []string{
				"$(", "`", "&&", "||",
			}},
		},
		ScannerAgents: []string{
			"sqlmap", "nikto", "nmap", "masscan", "burp", "owasp zap", "zaproxy",
			"metasploit", "dirbuster", "gobuster", "wpscan", "curl", "wget",
			"python-requests", "python-urllib", "go-http-client", "libwww-perl",
			"java/", "scanner",
		},
	}
}

// LoadSignatures parses a YAML table. Pattern sets that share an indicator
// name are merged.
func LoadSignatures(r io.Reader) (*Signatures, error) {
	var sigs Signatures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sigs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSignatures)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignatures, err)
	}
	if err := sigs.Validate(); err != nil {
		return nil, err
	}
	return &sigs, nil
}

// Validate rejects sets without an indicator name and empty patterns.
func (s *Signatures) Validate() error {
	for i, set := range s.Patterns {
		if strings.TrimSpace(set.Indicator) == "" {
			return fmt.Errorf("%w: pattern set %d has no indicator", ErrInvalidSignatures, i)
		}
		for _, p := range set.Patterns {
			if p == "" {
				return fmt.Errorf("%w: empty pattern in %q", ErrInvalidSignatures, set.Indicator)
			}
		}
	}
	for _, a := range s.ScannerAgents {
		if a == "" {
			return fmt.Errorf("%w: empty scanner agent", ErrInvalidSignatures)
		}
	}
	return nil
}

// Merge returns a table holding the entries of s followed by those of other.
func (s *Signatures) Merge(other *Signatures) *Signatures {
	out := &Signatures{}
	index := make(map[string]int)
	for _, src := range []*Signatures{s, other} {
		if src == nil {
			continue
		}
		for _, set := range src.Patterns {
			i, ok := index[set.Indicator]
			if !ok {
				index[set.Indicator] = len(out.Patterns)
				out.Patterns = append(out.Patterns, PatternSet{Indicator: set.Indicator})
				i = len(out.Patterns) - 1
			}
			out.Patterns[i].Patterns = append(out.Patterns[i].Patterns, set.Patterns...)
		}
		out.ScannerAgents = append(out.ScannerAgents, src.ScannerAgents...)
	}
	return out
}

type compiledSet struct {
	indicator string
	patterns  []string
}

// compile lowercases every pattern and adds its JSON-escaped form, so a
// pattern containing a backslash or quote still matches serialized details.
func (s *Signatures) compile() ([]compiledSet, []string) {
	sets := make([]compiledSet, 0, len(s.Patterns))
	for _, set := range s.Patterns {
		cs := compiledSet{indicator: set.Indicator}
		for _, p := range set.Patterns {
			p = strings.ToLower(p)
			cs.patterns = append(cs.patterns, p)
			if esc := jsonEscape(p); esc != p {
				cs.patterns = append(cs.patterns, esc)
			}
		}
		sets = append(sets, cs)
	}

	agents := make([]string, 0, len(s.ScannerAgents))
	for _, a := range s.ScannerAgents {
		agents = append(agents, strings.ToLower(a))
	}
	return sets, agents
}

func jsonEscape(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return s
	}
	out := strings.TrimSuffix(b.String(), "\n")
	return out[1 : len(out)-1]
}
