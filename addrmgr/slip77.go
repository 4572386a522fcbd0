package addrmgr

import (
	"crypto/hmac"
	"crypto/sha256"
)

// blindingKeyForScript derives the SLIP-0077 blinding private key for an
// output script: HMAC-SHA256 keyed with the master blinding key over the
// script bytes.
func blindingKeyForScript(masterKey, script []byte) []byte {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write(script)
	return mac.Sum(nil)
}
