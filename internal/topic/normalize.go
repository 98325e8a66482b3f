package topic

import "strings"

var normalizeReplacer = strings.NewReplacer(
	" ", "", "\t", "", "\n", "",
	"-", "", "_", "", ",", "", ".", "", "!", "", "?", "", ":", "",
	"；", "", "，", "", "。", "", "！", "", "？", "", "：", "",
	"·", "", "—", "", "~", "",
)

// Normalize reduces a topic or title to a comparison key: trimmed, lowercased
// and stripped of whitespace and common ASCII/CJK punctuation.
func Normalize(s string) string {
	return normalizeReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}
