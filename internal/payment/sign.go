package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SignParams returns the hex HMAC-SHA256 of params sorted by key and
// joined as k=v&k=v.  It signs the return URLs the service hands to a
// gateway so a forged return is rejected before any provider call.
func SignParams(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyParams reports whether sig is SignParams(secret, params).
func VerifyParams(secret string, params map[string]string, sig string) bool {
	want := SignParams(secret, params)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(sig)))
}
