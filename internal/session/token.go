package session

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
)

// SignatureLen is the length of the hex HMAC-SHA1 prefix of a token.
const SignatureLen = 40

// Sign returns the lowercase hex HMAC-SHA1 of sessionID under secret.
func Sign(secret []byte, sessionID string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token builds the cookie value for sessionID.
func Token(secret []byte, sessionID string) string {
	return Sign(secret, sessionID) + sessionID
}

// VerifyToken splits token into signature and session id and checks the
// signature. A signature of the wrong length fails immediately; otherwise
// the whole signature is compared regardless of where it first differs.
func VerifyToken(secret []byte, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	given, sessionID := token, ""
	if len(token) > SignatureLen {
		given, sessionID = token[:SignatureLen], token[SignatureLen:]
	}
	expected := Sign(secret, sessionID)
	if len(expected) != len(given) {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(given)) != 1 {
		return "", false
	}
	return sessionID, true
}
