package blueprint

import (
	"html"
	"strings"
)

// tokenDefaults fill in any business field the request left empty
var tokenDefaults = map[string]string{
	"businessName": "Your Business",
	"street":       "123 Main St",
	"city":         "Your City",
	"state":        "ST",
	"zip":          "12345",
	"email":        "info@example.com",
	"phone":        "(555) 123-4567",
	"businessType": "Business",
	"description":  "Professional services and solutions",
}

// Substitute replaces every {{field}} placeholder with the matching meta
// value, or its default. Matching is case-sensitive and single pass, so a
// value that itself looks like a placeholder is left as written. Values are
// HTML-escaped because the output is page markup.
func Substitute(text string, meta map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	values := make(map[string]string, len(tokenDefaults)+len(meta))
	for k, v := range tokenDefaults {
		values[k] = v
	}
	for k, v := range meta {
		if v != "" {
			values[k] = v
		}
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", html.EscapeString(v))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func fieldOr(meta map[string]string, key string) string {
	if v := meta[key]; v != "" {
		return v
	}
	return tokenDefaults[key]
}
