package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client abstracts every on-chain interaction the engine performs.
type Client interface {
	// CheckName reports syntactic validity and registrar availability for a
	// label.
	CheckName(ctx context.Context, name string) (Availability, error)
	// Balance returns the current wei balance of an address.
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	// FeeData returns the current EIP-1559 fee components.
	FeeData(ctx context.Context) (FeeData, error)
	// Transfer moves Amount wei from the deposit address identified by Path
	// to the recipient and returns the transaction hash.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	// Register submits the name-registration transaction funded by the
	// deposit address.
	Register(ctx context.Context, req RegisterRequest) (RegisterResult, error)
}

// HealthChecker is optionally implemented by clients that can probe their
// RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Availability struct {
	Valid     bool
	Available bool
}

type FeeData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type TransferRequest struct {
	Path     string
	From     common.Address
	To       common.Address
	Amount   *big.Int
	GasLimit uint64
}

type RegisterRequest struct {
	Path           string
	Name           string
	DepositAddress common.Address
	Owner          common.Address
	Value          *big.Int // registration price, paid from the deposit address
}

type RegisterResult struct {
	TxHash       string
	ExplorerLink string
}
