// Package normalizer rewrites recognizer transcripts into the romanized,
// lower-case Hinglish form the dialogue engine expects.
package normalizer

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-callbot/internal/config"
	"gopkg.in/yaml.v3"
)

const (
	boostPerRule = 0.02
	maxBoost     = 0.1
	// rewrite rounds before giving up on reaching a fixed point
	maxRewritePasses = 4
)

// trailing punctuation kept intact by token-level corrections
const tokenPunctuation = ".,?!।"

// CorrectionResult describes one normalization.
type CorrectionResult struct {
	Original        string
	Corrected       string
	Rules           []string
	ConfidenceBoost float64
}

type rule struct {
	from    string
	to      string
	pattern *regexp.Regexp
}

// Normalizer is immutable after construction and safe for concurrent use.
type Normalizer struct {
	phonetic      map[string]string
	rules         []rule
	domainRewrite bool
}

// Overrides extends the built-in tables; entries replace built-ins with the
// same key.
type Overrides struct {
	Phonetic map[string]string `yaml:"phonetic"`
	Domain   map[string]string `yaml:"domain"`
}

// New builds a normalizer from config, merging the optional overrides file.
func New(cfg config.NormalizerConfig) (*Normalizer, error) {
	var overrides Overrides
	if cfg.CorrectionsPath != "" {
		data, err := os.ReadFile(cfg.CorrectionsPath)
		if err != nil {
			return nil, fmt.Errorf("read corrections file: %w", err)
		}
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse corrections file: %w", err)
		}
	}
	return NewWithOverrides(cfg.DomainRewrite, overrides), nil
}

func NewWithOverrides(domainRewrite bool, overrides Overrides) *Normalizer {
	phonetic := make(map[string]string, len(phoneticCorrections)+len(overrides.Phonetic))
	for k, v := range phoneticCorrections {
		phonetic[k] = v
	}
	for k, v := range overrides.Phonetic {
		phonetic[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}

	domain := make(map[string]string, len(domainCorrections)+len(overrides.Domain))
	for k, v := range domainCorrections {
		domain[k] = v
	}
	for k, v := range overrides.Domain {
		domain[clean(k)] = clean(v)
	}
	return &Normalizer{
		phonetic:      phonetic,
		rules:         compileRules(domain),
		domainRewrite: domainRewrite,
	}
}

// longest phrases first so that a short key never splits a longer match
func compileRules(table map[string]string) []rule {
	keys := make([]string, 0, len(table))
	for k := range table {
		if k != "" && k != table[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	rules := make([]rule, 0, len(keys))
	for _, k := range keys {
		rules = append(rules, rule{
			from:    k,
			to:      table[k],
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`),
		})
	}
	return rules
}

// Normalize runs transliteration (Devanagari input only), phonetic loanword
// correction on the transliterated tokens and the domain phrase rewrite. The
// result is lower case with single spaces.
func (n *Normalizer) Normalize(text string) CorrectionResult {
	result := CorrectionResult{Original: text}
	if strings.TrimSpace(text) == "" {
		result.Corrected = ""
		return result
	}

	current := text
	if ContainsDevanagari(current) {
		romanized := clean(Transliterate(current))
		result.Rules = append(result.Rules, "transliterate")
		current = n.CorrectPhonetic(romanized)
		if current != romanized {
			result.Rules = append(result.Rules, "phonetic")
		}
	}
	current = clean(current)

	if n.domainRewrite {
		rewritten, applied := n.rewriteDomain(current)
		current = rewritten
		result.Rules = append(result.Rules, applied...)
		boost := boostPerRule * float64(len(applied))
		if boost > maxBoost {
			boost = maxBoost
		}
		result.ConfidenceBoost = boost
	}
	result.Corrected = current
	return result
}

// CorrectPhonetic replaces whole tokens found in the phonetic table. Matching
// is case-insensitive and trailing punctuation is preserved.
func (n *Normalizer) CorrectPhonetic(text string) string {
	words := strings.Fields(text)
	for i, word := range words {
		bare := strings.TrimRight(word, tokenPunctuation)
		if bare == "" {
			continue
		}
		if replacement, ok := n.phonetic[strings.ToLower(bare)]; ok {
			words[i] = replacement + word[len(bare):]
		}
	}
	return strings.Join(words, " ")
}

func (n *Normalizer) rewriteDomain(text string) (string, []string) {
	var applied []string
	for pass := 0; pass < maxRewritePasses; pass++ {
		changed := false
		for _, r := range n.rules {
			if !r.pattern.MatchString(text) {
				continue
			}
			next := r.pattern.ReplaceAllLiteralString(text, r.to)
			if next != text {
				applied = append(applied, fmt.Sprintf("%s -> %s", r.from, r.to))
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return clean(text), applied
}
