package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/ethereum/go-ethereum/common"
)

// TokenAddress derives a deterministic 20-byte address for an in-process
// token from its symbol: the last 20 bytes of keccak256("tokendex/token:" +
// symbol). The same symbol always maps to the same address, so clients can
// hardcode token addresses the way they would on a real chain.
func TokenAddress(symbol string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("tokendex/token:"))
	h.Write([]byte(symbol))
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:])
}
