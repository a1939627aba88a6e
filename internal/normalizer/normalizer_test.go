package normalizer

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

func TestTransliterate(t *testing.T) {
	cases := map[string]string{
		"स्टेशन":    "steshana",
		"कहाँ है":   "kahaan hai",
		"बैटरी":     "baitaree",
		"ज़रूरत":    "zaroorata",
		"plain text": "plain text",
	}
	for in, want := range cases {
		if got := Transliterate(in); got != want {
			t.Fatalf("Transliterate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDevanagariStationQuery(t *testing.T) {
	n := NewWithOverrides(true, Overrides{})
	result := n.Normalize("स्टेशन कहाँ है")
	if result.Corrected != "station kahan hai" {
		t.Fatalf("unexpected correction: %q (rules %v)", result.Corrected, result.Rules)
	}
	if result.Original != "स्टेशन कहाँ है" {
		t.Fatalf("original not preserved: %q", result.Original)
	}
	if len(result.Rules) < 3 {
		t.Fatalf("expected transliterate, phonetic and domain rules, got %v", result.Rules)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewWithOverrides(true, Overrides{})
	inputs := []string{
		"स्टेशन कहाँ है",
		"मेरी बैटरी हिस्ट्री दिखाओ",
		"Betri Smart  swapping station kaha hai",
		"new dilli mein near station",
		"hello there",
		"",
	}
	for _, in := range inputs {
		once := n.Normalize(in).Corrected
		twice := n.Normalize(once).Corrected
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeRomanPassthrough(t *testing.T) {
	n := NewWithOverrides(false, Overrides{})
	result := n.Normalize("  Hello   World ")
	if result.Corrected != "hello world" {
		t.Fatalf("unexpected corrected text %q", result.Corrected)
	}
	if len(result.Rules) != 0 || result.ConfidenceBoost != 0 {
		t.Fatalf("expected no rules without Devanagari or domain rewrite: %+v", result)
	}
}

func TestDomainRewriteBoost(t *testing.T) {
	n := NewWithOverrides(true, Overrides{})
	result := n.Normalize("betri smart swapping station kaha hai")
	if result.Corrected != "battery smart swap station kahan hai" {
		t.Fatalf("unexpected correction: %q", result.Corrected)
	}
	if len(result.Rules) != 3 {
		t.Fatalf("expected three domain rules, got %v", result.Rules)
	}
	if math.Abs(result.ConfidenceBoost-0.06) > 1e-9 {
		t.Fatalf("expected boost 0.06, got %f", result.ConfidenceBoost)
	}

	capped := n.Normalize("bombay poona madras calcutta dilli hydrabad")
	if capped.Corrected != "mumbai pune chennai kolkata delhi hyderabad" {
		t.Fatalf("unexpected city rewrite: %q", capped.Corrected)
	}
	if math.Abs(capped.ConfidenceBoost-0.1) > 1e-9 {
		t.Fatalf("expected boost capped at 0.1, got %f", capped.ConfidenceBoost)
	}
}

func TestDomainRewriteReachesFixedPoint(t *testing.T) {
	n := NewWithOverrides(true, Overrides{})
	result := n.Normalize("new dilli")
	if result.Corrected != "delhi" {
		t.Fatalf("expected chained rewrite to settle on delhi, got %q", result.Corrected)
	}
}

func TestCorrectPhoneticKeepsPunctuation(t *testing.T) {
	n := NewWithOverrides(false, Overrides{})
	if got := n.CorrectPhonetic("Steshana? baitaree."); got != "station? battery." {
		t.Fatalf("unexpected phonetic correction: %q", got)
	}
}

func TestNewLoadsOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrections.yaml")
	data := []byte(`phonetic:
  gaadee: gaadi
domain:
  Swap Kendra: swap station
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	n, err := New(config.NormalizerConfig{CorrectionsPath: path, DomainRewrite: true})
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	if got := n.Normalize("swap kendra kahan hai").Corrected; got != "swap station kahan hai" {
		t.Fatalf("domain override not applied: %q", got)
	}
	if got := n.CorrectPhonetic("gaadee"); got != "gaadi" {
		t.Fatalf("phonetic override not applied: %q", got)
	}

	if _, err := New(config.NormalizerConfig{CorrectionsPath: filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing overrides file")
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]string{
		"where is the nearest station please": English,
		"mera station kahan hai batao":        Hindi,
		"mera station where is":               Mixed,
		"battery swap":                        Mixed,
		"स्टेशन":                               Hindi,
	}
	for in, want := range cases {
		if got := Detect(in); got != want {
			t.Fatalf("Detect(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShouldSwitch(t *testing.T) {
	if !ShouldSwitch(Hindi, English) || !ShouldSwitch(English, Hindi) {
		t.Fatal("expected switch between hi and en")
	}
	if ShouldSwitch(Mixed, English) || ShouldSwitch(Hindi, Mixed) || ShouldSwitch(Hindi, Hindi) {
		t.Fatal("mixed or unchanged language must not switch")
	}
}
