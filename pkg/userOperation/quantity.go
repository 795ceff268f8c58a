package userOperation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Quantity decodes the numeric fields of bundler and paymaster responses, which
// arrive as hex strings, decimal strings or JSON numbers depending on the
// implementation. Null and absent values leave Int nil.
type Quantity struct {
	Int *big.Int
}

// BigInt returns a copy of the value, or nil when the field was absent.
func (q *Quantity) BigInt() *big.Int {
	if q == nil {
		return nil
	}
	return copyBig(q.Int)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.Int == nil {
		return []byte("null"), nil
	}
	return json.Marshal((*hexutil.Big)(q.Int))
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		q.Int = nil
		return nil
	}

	var text string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	} else {
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		q.Int = nil
		return nil
	}

	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		_, ok = v.SetString(text[2:], 16)
	} else {
		_, ok = v.SetString(text, 10)
	}
	if !ok {
		return fmt.Errorf("invalid quantity %q", text)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative quantity %q", text)
	}
	q.Int = v
	return nil
}
