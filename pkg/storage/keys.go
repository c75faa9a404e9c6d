package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each state family is one range scan, and
// numeric components are zero-padded so lexicographic order equals numeric
// order.
const (
	prefixBalance   = "bal:" // bal:{token}:{account} -> int64
	prefixOrder     = "ord:" // ord:{id} -> Order JSON
	prefixCancelled = "cxl:" // cxl:{id} -> 1
	prefixFilled    = "fil:" // fil:{id} -> 1
	prefixEvent     = "evt:" // evt:{seq} -> Event JSON

	keyOrdersCount = "cnt"  // uint64
	keyFeePercent  = "fee"  // int64
	keyEventSeq    = "eseq" // uint64
)

// balanceKey: "bal:{token}:{account}"
func balanceKey(token, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), account.Hex()))
}

// balanceKeyAddrs parses the token and account back out of a balance key.
func balanceKeyAddrs(key []byte) (token, account common.Address, err error) {
	// "bal:" + 42 hex chars + ":" + 42 hex chars
	want := len(prefixBalance) + 42 + 1 + 42
	if len(key) != want {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	tokenHex := string(key[len(prefixBalance) : len(prefixBalance)+42])
	accountHex := string(key[len(prefixBalance)+43:])
	if !common.IsHexAddress(tokenHex) || !common.IsHexAddress(accountHex) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid address in balance key: %s", key)
	}
	return common.HexToAddress(tokenHex), common.HexToAddress(accountHex), nil
}

// orderKey: "ord:{020d}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func cancelledKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCancelled, id))
}

func filledKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixFilled, id))
}

// eventKey: "evt:{020d}"
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// idFromKey parses the zero-padded numeric suffix of a set-membership key.
func idFromKey(key []byte, prefix string) (uint64, error) {
	if len(key) != len(prefix)+20 {
		return 0, fmt.Errorf("invalid key length: %d", len(key))
	}
	var id uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%020d", &id); err != nil {
		return 0, fmt.Errorf("invalid id in key %s: %w", key, err)
	}
	return id, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
