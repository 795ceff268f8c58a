// Package sponsor negotiates paymaster sponsorship for user operations.
//
// Two modes exist. A flat paymaster receives the operation unchanged. A token
// paymaster is paid in an ERC-20 gas token, so the call data is rewritten into a
// batch of [approve(paymaster, max), original calls...] before negotiating.
// Sponsorship is best-effort: every failure is reported in Result.Err and the
// operation falls back to being self-funded.
package sponsor

import (
	"context"
	"math/big"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DummyPaymasterAndData has the length of a verifying paymaster's payload
// (address, validUntil, validAfter, signature) and is used only for sizing.
var DummyPaymasterAndData = hexutil.MustDecode("0xfe7dbcab8aaee4eb67943c1e6be95b1d065985c6000000000000000000000000000000000000000000000000000001869aa31cf400000000000000000000000000000000000000000000000000000000000000007dfe2190f34af27b265bae608717cdc9368b471fc0c097ab7b4088f255b4961e57b039e7e571b15221081c5dce7bcb93459b27a3ab65d2f8a889f4a40b4022801b")

// Response is a paymaster's answer. Nil fields were not supplied.
type Response struct {
	PaymasterAndData     []byte
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
	CallData             []byte
}

// HasGasEstimates reports whether the paymaster supplied all three gas fields.
func (r *Response) HasGasEstimates() bool {
	return r != nil && r.PreVerificationGas != nil && r.VerificationGasLimit != nil && r.CallGasLimit != nil
}

// IPaymasterAPI is a sponsorship service. erc20Op is set only by token paymasters
// and carries the batch that approves the gas token.
type IPaymasterAPI interface {
	GetPaymasterResponse(ctx context.Context, op userOperation.UserOperation, erc20Op *userOperation.UserOperation) (*Response, error)
}

// ITokenPaymasterAPI is a paymaster that is paid in an ERC-20 gas token.
type ITokenPaymasterAPI interface {
	IPaymasterAPI
	// CreateGasTokenApprovalRequest returns the call approving the paymaster to spend the gas token
	CreateGasTokenApprovalRequest(ctx context.Context) (account.Call, error)
}

// INegotiator produces the sponsorship outcome for a provisional operation.
type INegotiator interface {
	Negotiate(ctx context.Context, op userOperation.UserOperation, details account.TransactionDetails) Result
}

// IAddressCache is the cache collaborator for paymaster addresses. Its lifetime is
// owned by the caller.
type IAddressCache interface {
	Get(key string) (common.Address, bool)
	Add(key string, address common.Address)
}

// Result is the tagged outcome of a negotiation.
type Result struct {
	// Response is nil when the operation is self-funded
	Response *Response
	// BatchCallData and BatchCallGasLimit describe the token-approval rewrite and
	// apply where the response does not override them
	BatchCallData     []byte
	BatchCallGasLimit *big.Int
	// Err is the reason sponsorship was abandoned, if it was
	Err error
}

// Sponsored reports whether the paymaster accepted the operation.
func (r Result) Sponsored() bool {
	return r.Err == nil && r.Response != nil
}

// HasGasEstimates reports whether the paymaster's gas numbers are authoritative.
func (r Result) HasGasEstimates() bool {
	return r.Sponsored() && r.Response.HasGasEstimates()
}

// Apply merges the result into op field by field; op keeps every value the
// paymaster left unset. A self-funded result clears the sponsorship payload.
func (r Result) Apply(op userOperation.UserOperation) userOperation.UserOperation {
	if !r.Sponsored() {
		return op.WithPaymasterAndData([]byte{})
	}
	resp := r.Response
	out := op.WithPaymasterAndData(resp.PaymasterAndData)

	// the rewritten batch and its gas are the base; the paymaster's fields win
	if r.BatchCallData != nil {
		out = out.WithCallData(r.BatchCallData).WithGasLimits(userOperation.GasLimits{CallGasLimit: r.BatchCallGasLimit})
	}
	if resp.CallData != nil {
		out = out.WithCallData(resp.CallData)
	}
	return out.WithGasLimits(userOperation.GasLimits{
		CallGasLimit:         resp.CallGasLimit,
		VerificationGasLimit: resp.VerificationGasLimit,
		PreVerificationGas:   resp.PreVerificationGas,
	})
}
