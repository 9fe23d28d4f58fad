package replay

import "encoding/base64"

// chunkDecode decodes a tape chunk's base64 payload.
func chunkDecode(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
