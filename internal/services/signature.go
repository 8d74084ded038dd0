package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayment returns hex(HMAC-SHA256(secret, "{orderID}|{paymentID}")), the checkout
// callback signature.
func SignPayment(secret, orderID, paymentID string) string {
	return SignBody(secret, []byte(orderID+"|"+paymentID))
}

// SignBody returns hex(HMAC-SHA256(secret, body)), the webhook signature over the raw body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compares two hex signatures in constant time. An empty signature never
// matches.
func signatureEqual(expected, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
