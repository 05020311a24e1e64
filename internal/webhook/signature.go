// Package webhook ingests asynchronous gateway notifications: signature
// verification, dedupe and status application.
package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrInvalidPayload           = errors.New("invalid webhook payload")
	ErrSignatureMismatch        = errors.New("webhook signature mismatch")
	ErrSignaturePropertyMissing = errors.New("webhook signature property missing")
	ErrSignatureMissing         = errors.New("webhook signature missing")
)

// Checksum computes the event checksum over the raw body: the values of
// signature.properties resolved under data, then timestamp, then secret.
// Values are taken from the raw JSON text so numbers keep their original
// formatting.
func Checksum(raw []byte, secret string) (string, error) {
	props := gjson.GetBytes(raw, "signature.properties")
	if !props.IsArray() {
		return "", fmt.Errorf("%w: signature.properties", ErrSignaturePropertyMissing)
	}

	var b strings.Builder
	for _, prop := range props.Array() {
		path := prop.String()
		value := gjson.GetBytes(raw, "data."+path)
		if path == "" || !value.Exists() {
			return "", fmt.Errorf("%w: data.%s", ErrSignaturePropertyMissing, path)
		}
		b.WriteString(value.String())
	}

	timestamp := gjson.GetBytes(raw, "timestamp")
	if !timestamp.Exists() {
		return "", fmt.Errorf("%w: timestamp", ErrSignaturePropertyMissing)
	}
	b.WriteString(timestamp.String())
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Verify checks the claimed checksum against the raw body. An empty claim
// falls back to signature.checksum in the body. Hex case is ignored.
func Verify(raw []byte, claimed, secret string) error {
	if claimed == "" {
		claimed = gjson.GetBytes(raw, "signature.checksum").String()
	}
	if claimed == "" {
		return ErrSignatureMissing
	}

	expected, err := Checksum(raw, secret)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(claimed))) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// IsSignatureError reports whether err is a verification failure.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrSignaturePropertyMissing) ||
		errors.Is(err, ErrSignatureMissing)
}
