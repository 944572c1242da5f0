package headers

import (
	"fmt"
	"strings"
)

// AcceptLanguage returns the Accept-Language value to send. When the engine
// sent none, the configured languages are used. With rich set, a plain list
// without q-values is expanded the way Chrome does it: each region tag is
// followed by its base language and weights step down by 0.1.
func AcceptLanguage(original string, languages []string, rich bool) string {
	original = strings.TrimSpace(original)
	if original == "" {
		if len(languages) == 0 {
			return ""
		}
		original = strings.Join(languages, ",")
		rich = true
	}
	if !rich || strings.Contains(original, ";") {
		return original
	}

	var tags []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag != "" && !seen[strings.ToLower(tag)] {
			seen[strings.ToLower(tag)] = true
			tags = append(tags, tag)
		}
	}
	for _, part := range strings.Split(original, ",") {
		tag := strings.TrimSpace(part)
		add(tag)
		if base, _, ok := strings.Cut(tag, "-"); ok {
			add(base)
		}
	}

	var b strings.Builder
	q := 10
	for i, tag := range tags {
		if i == 0 {
			b.WriteString(tag)
			continue
		}
		if q > 1 {
			q--
		}
		fmt.Fprintf(&b, ",%s;q=0.%d", tag, q)
	}
	return b.String()
}
