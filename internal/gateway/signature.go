package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// IntegritySignature binds reference, amount and currency to the merchant's
// integrity secret: lowercase hex of SHA-256(reference + amount + currency + secret).
// The concatenation order is fixed by the gateway.
func IntegritySignature(reference string, amountInCents int64, currency, secret string) string {
	h := sha256.New()
	h.Write([]byte(reference))
	h.Write([]byte(strconv.FormatInt(amountInCents, 10)))
	h.Write([]byte(currency))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
