// Package payu implements the PayU request/response signature scheme.
//
// The payment hash is SHA-512 over
//
//	key|txnid|amount|productinfo|firstname|email|udf1|udf2|udf3|udf4|udf5||||||SALT
//
// and the response hash is SHA-512 over the same tuple reversed, with the
// gateway status after the salt:
//
//	SALT|status||||||udf5|udf4|udf3|udf2|udf1|email|firstname|productinfo|amount|txnid|key
//
// Both directions carry five empty reserved slots. Field order and slot count
// are part of the wire contract.
package payu

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const reservedSlots = 5

// Fields is the ordered tuple signed at payment initiation.
type Fields struct {
	Key         string
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// Response is the tuple the gateway echoes back on callback.
type Response struct {
	Fields
	Status string
}

// Generate returns the lowercase hex request hash.
func Generate(f Fields, salt string) string {
	parts := make([]string, 0, 17)
	parts = append(parts, f.Key, f.TxnID, f.Amount, f.ProductInfo, f.FirstName, f.Email)
	parts = append(parts, f.UDF[:]...)
	for i := 0; i < reservedSlots; i++ {
		parts = append(parts, "")
	}
	parts = append(parts, salt)
	return digest(parts)
}

// ResponseHash returns the lowercase hex hash the gateway is expected to send
// for r.
func ResponseHash(r Response, salt string) string {
	parts := make([]string, 0, 18)
	parts = append(parts, salt, r.Status)
	for i := 0; i < reservedSlots; i++ {
		parts = append(parts, "")
	}
	for i := len(r.UDF) - 1; i >= 0; i-- {
		parts = append(parts, r.UDF[i])
	}
	parts = append(parts, r.Email, r.FirstName, r.ProductInfo, r.Amount, r.TxnID, r.Key)
	return digest(parts)
}

// Verify recomputes the response hash and compares it with received.
func Verify(r Response, salt, received string) bool {
	want := ResponseHash(r, salt)
	got := strings.ToLower(strings.TrimSpace(received))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func digest(parts []string) string {
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
