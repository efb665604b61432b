// Package privacy masks personally identifiable information before it reaches logs.
package privacy

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

// AnonymizeIP zeroes the host portion of an address: /24 for IPv4, /48 for IPv6.
// Returns "invalid" for unparseable input and "unknown" for empty input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

// MaskName keeps the first letter of each word: "Jane Doe" -> "J*** D**".
func MaskName(name string) string {
	fields := strings.Fields(name)
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(r) + strings.Repeat("*", utf8.RuneCountInString(f[size:]))
	}
	return strings.Join(fields, " ")
}

// MaskEmail keeps the first local character and the domain: "jane@x.ca" -> "j***@x.ca".
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return MaskName(email)
	}
	local := email[:at]
	r, size := utf8.DecodeRuneInString(local)
	return string(r) + strings.Repeat("*", utf8.RuneCountInString(local[size:])) + email[at:]
}

// MaskCardNumber keeps only the last four characters.
func MaskCardNumber(number string) string {
	n := utf8.RuneCountInString(number)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	runes := []rune(number)
	return strings.Repeat("*", n-4) + string(runes[n-4:])
}
