package userOperation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantity_Unmarshal(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{`"0x5208"`, 21000},
		{`"21000"`, 21000},
		{`21000`, 21000},
		{`"0X10"`, 16},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.input), &q))
			assert.Equal(t, tt.expected, q.Int.Int64())
		})
	}
}

func TestQuantity_AbsentAndInvalid(t *testing.T) {
	var body struct {
		A *Quantity `json:"a"`
		B *Quantity `json:"b"`
		C Quantity  `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": null, "c": ""}`), &body))
	assert.Nil(t, body.A.BigInt())
	assert.Nil(t, body.B.BigInt())
	assert.Nil(t, body.C.Int)

	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`"0xzz"`), &q))
	assert.Error(t, json.Unmarshal([]byte(`"-5"`), &q))
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &q))
}

func TestQuantity_Marshal(t *testing.T) {
	out, err := json.Marshal(Quantity{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))

	var q Quantity
	require.NoError(t, json.Unmarshal([]byte(`255`), &q))
	out, err = json.Marshal(q)
	require.NoError(t, err)
	assert.Equal(t, `"0xff"`, string(out))
}
