package langdetect

import "strings"

// NormalizeCode reduces a declared language tag such as "ko-KR" or "en_us" to
// its lower-case primary subtag. Tags with non-letter subtags yield "".
func NormalizeCode(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return ""
	}

	primary, _, _ := strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
	if len(primary) < 2 || len(primary) > 3 {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return primary
}
