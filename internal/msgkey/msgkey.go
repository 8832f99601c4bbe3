// Package msgkey derives stable message keys from default message text.
package msgkey

import (
	"crypto/sha512"
	"encoding/base64"

	"github.com/romshark/intlbuild"
)

// Length is the number of base64 characters a derived key consists of.
const Length = 6

// Derive returns the key for message text: the first Length characters of
// the standard base64 encoding of its SHA-512 digest.
// Identical text always yields the identical key.
func Derive(message string) string {
	sum := sha512.Sum512([]byte(message))
	return base64.StdEncoding.EncodeToString(sum[:])[:Length]
}

// Full returns the full message id for a call site. An explicit id is used
// verbatim, otherwise the key is derived from message.
func Full(namespace, explicitID, message string) string {
	key := explicitID
	if key == "" {
		key = Derive(message)
	}
	return intlbuild.JoinID(namespace, key)
}
