package category

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var _hexColorRegexp = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidHexColor returns true for "#RRGGBB" strings.
func ValidHexColor(s string) bool {
	return _hexColorRegexp.MatchString(s)
}

// HexToAmule converts "#RRGGBB" into the packed 24-bit BGR integer ed2k
// clients store. Invalid input maps to 0 (black); the translation is total.
func HexToAmule(hex string) uint32 {
	if !ValidHexColor(hex) {
		return 0
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 0
	}
	r := (v >> 16) & 0xff
	g := (v >> 8) & 0xff
	b := v & 0xff
	return uint32(b<<16 | g<<8 | r)
}

// AmuleToHex converts a packed BGR integer back into lowercase "#rrggbb".
func AmuleToHex(c uint32) string {
	b := (c >> 16) & 0xff
	g := (c >> 8) & 0xff
	r := c & 0xff
	return strings.ToLower(fmt.Sprintf("#%02x%02x%02x", r, g, b))
}
