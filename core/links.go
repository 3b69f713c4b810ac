package core

import (
	"fmt"
	"regexp"
	"strings"
)

var _ed2kLinkRegexp = regexp.MustCompile(
	`^ed2k://\|file\|[^|]+\|\d+\|([0-9a-fA-F]{32})\|`)

// Ed2kLinkHash extracts the lowercase 32-hex hash from an ed2k file link of
// the form ed2k://|file|name|size|hash|/.
func Ed2kLinkHash(link string) (string, error) {
	m := _ed2kLinkRegexp.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", fmt.Errorf("invalid ed2k link: %s", link)
	}
	return strings.ToLower(m[1]), nil
}
