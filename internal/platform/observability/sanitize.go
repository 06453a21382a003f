package observability

import "unicode"

// scrub strips control characters and caps length so request-derived values
// cannot inject newlines into log output.
func scrub(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

func scrubRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

func scrubMethod(method string) string {
	return scrub(method, 10)
}

func scrubUserID(uid string) string {
	return scrub(uid, 64)
}
