package normalizer

import "strings"

// Language codes reported by Detect.
const (
	Hindi   = "hi"
	English = "en"
	Mixed   = "hi-en"
)

const (
	hindiDominant   = 0.7
	englishDominant = 0.3
)

var hindiMarkers = markerSet(`hai hain kya kahan kaise kyun mera meri aapka aapki batao dikhao
	chahiye karo karein nahi haan theek achha bahut bohot abhi kal aaj yahan wahan kaun kab
	kitna kitni`)

var englishMarkers = markerSet(`the is are was were have has can could would should will
	what where when how why please help need want show check find`)

func markerSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// Detect guesses the caller's language from a transcript. Any Devanagari
// means Hindi; otherwise the share of Hindi marker words among all marker
// words decides. Text with no markers is treated as code-mixed.
func Detect(text string) string {
	if ContainsDevanagari(text) {
		return Hindi
	}
	var hindi, english int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, tokenPunctuation+`"'`)
		if _, ok := hindiMarkers[word]; ok {
			hindi++
		}
		if _, ok := englishMarkers[word]; ok {
			english++
		}
	}
	total := hindi + english
	if total == 0 {
		return Mixed
	}
	ratio := float64(hindi) / float64(total)
	switch {
	case ratio > hindiDominant:
		return Hindi
	case ratio < englishDominant:
		return English
	default:
		return Mixed
	}
}

// ShouldSwitch reports whether the session language should follow the
// detected one. Only a full flip between Hindi and English switches; mixed
// speech keeps the current language.
func ShouldSwitch(current, detected string) bool {
	return (current == Hindi && detected == English) || (current == English && detected == Hindi)
}
