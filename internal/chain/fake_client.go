package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"basednames/internal/names"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient emulates the chain for local development. Names are always
// available, addresses are empty, and submitted transactions get
// deterministic hashes.
type FakeClient struct{}

func (FakeClient) CheckName(_ context.Context, name string) (Availability, error) {
	if !names.Valid(name) {
		return Availability{}, nil
	}
	return Availability{Valid: true, Available: true}, nil
}

func (FakeClient) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (FakeClient) FeeData(_ context.Context) (FeeData, error) {
	return FeeData{
		MaxFeePerGas:         big.NewInt(2000),
		MaxPriorityFeePerGas: big.NewInt(500),
	}, nil
}

func (FakeClient) Transfer(_ context.Context, req TransferRequest) (string, error) {
	return fakeHash("transfer:" + req.From.Hex() + req.To.Hex()), nil
}

func (FakeClient) Register(_ context.Context, req RegisterRequest) (RegisterResult, error) {
	hash := fakeHash("register:" + req.Name + req.Owner.Hex())
	return RegisterResult{
		TxHash:       hash,
		ExplorerLink: "https://example.invalid/tx/" + hash,
	}, nil
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
