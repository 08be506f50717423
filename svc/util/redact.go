package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// RedactKey keeps the prefix and last characters of an access key so log
// lines stay correlatable without leaking the token.
func RedactKey(key string) string {
	if len(key) == 0 {
		return ""
	}
	if len(key) <= 8 {
		return "[KEY-REDACTED]"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

// RedactIP zeroes the host portion of an address for log output. The raw
// address still flows into the view ledger; this only scrubs log lines.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	if ipv6 := parsed.To16(); ipv6 != nil {
		for i := 4; i < 16; i++ {
			ipv6[i] = 0
		}
		return ipv6.String()
	}
	hash := sha256.Sum256([]byte(ip))
	return "hash:" + hex.EncodeToString(hash[:8])
}
