package parse

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minTagBytes = 3
	maxTagBytes = 10
)

var (
	separatorRe = regexp.MustCompile(`[\s:\-.]+`)
	hexRe       = regexp.MustCompile(`^[0-9A-F]+$`)
)

// NormalizeTag turns a raw RFID tag identifier into its canonical form:
// uppercase hex byte pairs joined by ':' (e.g. "04:D6:94:82:97:6A:80").
// Readers report the same UID as "04d69482976a80", "04-D6-94-..." or with
// colons, so every entry point normalizes before touching the cache or queue.
func NormalizeTag(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("empty rfid tag")
	}

	hex := separatorRe.ReplaceAllString(s, "")
	if !hexRe.MatchString(hex) {
		return "", fmt.Errorf("rfid tag %q contains non-hex characters", raw)
	}

	// Single-digit groups such as "4:A:B" are padded to a full byte.
	if strings.ContainsAny(s, ":-. ") {
		groups := separatorRe.Split(s, -1)
		var b strings.Builder
		for _, g := range groups {
			switch len(g) {
			case 0:
				continue
			case 1:
				b.WriteString("0" + g)
			case 2:
				b.WriteString(g)
			default:
				return "", fmt.Errorf("rfid tag %q has a malformed byte group %q", raw, g)
			}
		}
		hex = b.String()
	}

	if len(hex)%2 != 0 {
		return "", fmt.Errorf("rfid tag %q has an odd number of hex digits", raw)
	}

	n := len(hex) / 2
	if n < minTagBytes || n > maxTagBytes {
		return "", fmt.Errorf("rfid tag %q has %d bytes, want %d to %d", raw, n, minTagBytes, maxTagBytes)
	}

	pairs := make([]string, 0, n)
	for i := 0; i < len(hex); i += 2 {
		pairs = append(pairs, hex[i:i+2])
	}
	return strings.Join(pairs, ":"), nil
}
