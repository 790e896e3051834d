package epdq

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the SHASIGN for an outbound or inbound parameter set.
// Scheme: every non-empty parameter is rendered as KEY=value with the key
// upper-cased, pairs are sorted alphabetically by key, joined with the
// shared passphrase as separator, and the passphrase is appended once more
// at the end. The SHA-512 digest of that string, hex-encoded, is the
// signature. The SHASIGN parameter itself never participates.
func Sign(params url.Values, passphrase string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		upper := strings.ToUpper(k)
		if upper == "SHASIGN" || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToUpper(keys[i]) < strings.ToUpper(keys[j])
	})

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strings.ToUpper(k))
		b.WriteString("=")
		b.WriteString(params.Get(k))
		b.WriteString(passphrase)
	}
	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifySignature checks an inbound notification's SHASIGN against the
// shared passphrase. Comparison is case-insensitive; the check is pure and
// can be re-run on the same payload at any time.
func VerifySignature(params url.Values, passphrase string) bool {
	received := params.Get("SHASIGN")
	if received == "" {
		received = params.Get("shasign")
	}
	if received == "" {
		return false
	}
	expected := Sign(params, passphrase)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(received)), []byte(expected)) == 1
}
