package ingest

import (
	"crypto/rand"
	"encoding/hex"
)

func defaultNewID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
