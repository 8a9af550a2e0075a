package castorev1

import "encoding/base64"

// sriBase64 renders b as standard base64, the encoding SRI-form hash
// strings use (as opposed to the base32 alphabet used for store paths).
func sriBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
