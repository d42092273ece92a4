package lalamove

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Sign computes the request signature: hex HMAC-SHA256 of
// "{timestamp}\r\n{method}\r\n{path}\r\n\r\n{body}" keyed by the API secret.
func Sign(secret, timestamp, method, path, body string) string {
	raw := timestamp + "\r\n" + method + "\r\n" + path + "\r\n\r\n" + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks a callback signature. The signed body is the raw
// "data" object of the callback.
func VerifyWebhook(secret, path string, timestamp int64, data []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, strconv.FormatInt(timestamp, 10), "POST", path, string(data))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
