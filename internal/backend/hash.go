package backend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PepperHash is the stable digest used for filter columns stored hashed at rest.
func PepperHash(value, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
