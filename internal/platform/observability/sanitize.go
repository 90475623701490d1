package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString drops control characters and caps the length.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeValue prepares free-form strings (serials, operator input, error text) for logs.
func SanitizeValue(value string) string {
	return sanitizeString(value, defaultStringLimit)
}
