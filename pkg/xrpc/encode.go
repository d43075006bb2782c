package xrpc

import (
	"net/url"
	"regexp"
	"strings"
)

// Characters that are legal inside a query component and that make DIDs and
// comma lists readable are restored after escaping.
var (
	scalarUnescaper  = strings.NewReplacer("%3A", ":", "%40", "@", "%2C", ",")
	elementUnescaper = strings.NewReplacer("%3A", ":", "%40", "@")
)

// nsidPattern matches a namespaced identifier such as app.bsky.actor.getProfile.
var nsidPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+\.[a-zA-Z][a-zA-Z0-9]*$`)

// ValidNSID reports whether op is a well-formed operation id.
func ValidNSID(op string) bool {
	return len(op) <= 317 && nsidPattern.MatchString(op)
}

// EscapeValue percent-encodes a scalar query value.
func EscapeValue(s string) string {
	return scalarUnescaper.Replace(url.QueryEscape(s))
}

func escapeElement(s string) string {
	return elementUnescaper.Replace(url.QueryEscape(s))
}

func encodeParam(p Param) string {
	if !p.List {
		return url.QueryEscape(p.Name) + "=" + EscapeValue(strings.Join(p.Values, ""))
	}
	parts := make([]string, len(p.Values))
	for i, v := range p.Values {
		parts[i] = escapeElement(v)
	}
	return url.QueryEscape(p.Name) + "=" + strings.Join(parts, ",")
}

func encodeQuery(params []Param) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = encodeParam(p)
	}
	return strings.Join(parts, "&")
}
