package normalizer

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	virama = '्'
	nukta  = '़'
)

var devanagariToRoman = map[rune]string{
	// independent vowels
	'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "ee", 'उ': "u", 'ऊ': "oo",
	'ऋ': "ri", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au", 'ऑ': "o", 'ऍ': "e",
	// vowel signs
	'ा': "aa", 'ि': "i", 'ी': "ee", 'ु': "u", 'ू': "oo",
	'ृ': "ri", 'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au", 'ॉ': "o", 'ॅ': "e",
	// consonants
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "n",
	'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "n",
	'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'ळ': "l", 'व': "v", 'श': "sh",
	'ष': "sh", 'स': "s", 'ह': "h",
	// anusvara, visarga, chandrabindu, virama
	'ं': "n", 'ः': "h", 'ँ': "n", virama: "",
	'।': ".", '॥': ".",
	'०': "0", '१': "1", '२': "2", '३': "3", '४': "4",
	'५': "5", '६': "6", '७': "7", '८': "8", '९': "9",
}

// Romanization of consonant + nukta pairs. Precomposed nukta letters are
// decomposed to these pairs before lookup.
var nuktaForms = map[rune]string{
	'क': "q", 'ख': "kh", 'ग': "g", 'ज': "z", 'ड': "d",
	'ढ': "dh", 'फ': "f", 'य': "y", 'र': "r", 'ळ': "l",
}

func isConsonant(r rune) bool {
	return r >= 0x0915 && r <= 0x0939
}

// vowel signs and the virama suppress the inherent vowel of a preceding consonant
func suppressesInherentVowel(r rune) bool {
	switch {
	case r == virama:
		return true
	case r >= 0x093E && r <= 0x094C:
		return true
	}
	return false
}

// ContainsDevanagari reports whether text has any code point in the
// Devanagari block.
func ContainsDevanagari(text string) bool {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

// Transliterate maps Devanagari to a Roman approximation. A consonant carries
// an implicit trailing "a" unless a vowel sign or virama follows it. Text
// without Devanagari is returned unchanged.
func Transliterate(text string) string {
	if !ContainsDevanagari(text) {
		return text
	}
	runes := []rune(norm.NFD.String(text))
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isConsonant(r) {
			roman := devanagariToRoman[r]
			if i+1 < len(runes) && runes[i+1] == nukta {
				if form, ok := nuktaForms[r]; ok {
					roman = form
				}
				i++
			}
			b.WriteString(roman)
			if i+1 >= len(runes) || !suppressesInherentVowel(runes[i+1]) {
				b.WriteByte('a')
			}
			continue
		}
		if r == nukta {
			continue
		}
		if roman, ok := devanagariToRoman[r]; ok {
			b.WriteString(roman)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// clean lower-cases and collapses whitespace.
func clean(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
