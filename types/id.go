package types

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/criptocracia/ec-core/crypto/ethereum"
	"github.com/criptocracia/ec-core/util"
)

// NewElectionID derives a short, stable election identifier from the
// election name and a random salt, the way the teacher derives
// deterministic ids from content via ethereum.HashRaw. 8 bytes of
// Keccak-256 hex-encode to 16 printable characters, comfortably above
// the spec's 4-character minimum.
func NewElectionID(name string, createdAt time.Time) string {
	salt := util.RandomBytes(16)
	digest := ethereum.HashRaw(fmt.Appendf(nil, "%s|%d|%x", name, createdAt.UnixNano(), salt))
	return hex.EncodeToString(digest[:8])
}
