package sl

import (
	"encoding/hex"
	"log/slog"

	"github.com/zeebo/blake3"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// TokenFingerprint identifies a bearer token in logs without revealing
// it: the first 8 bytes of its BLAKE3 hash.
func TokenFingerprint(token string) slog.Attr {
	sum := blake3.Sum256([]byte(token))
	return slog.String("token_fp", hex.EncodeToString(sum[:8]))
}
