package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"basednames/internal/contracts"
	"basednames/internal/names"
	"basednames/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// One-year registrations, matching the registrar default term.
var registrationDuration = big.NewInt(365 * 24 * 60 * 60)

// EthClient talks to the registrar contract and moves deposit funds.
type EthClient struct {
	client      *ethclient.Client
	contract    *bind.BoundContract
	abi         abi.ABI
	registrar   common.Address
	chainID     *big.Int
	deriver     *wallet.Deriver
	explorerURL string
}

type EthClientConfig struct {
	RPCURL            string
	RegistrarContract string
	ExplorerURL       string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig, deriver *wallet.Deriver) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.RegistrarContract == "" {
		return nil, fmt.Errorf("registrar address is required")
	}
	if deriver == nil {
		return nil, fmt.Errorf("wallet deriver is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.RegistrarControllerABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	address := common.HexToAddress(cfg.RegistrarContract)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	return &EthClient{
		client:      cli,
		contract:    bound,
		abi:         parsedABI,
		registrar:   address,
		chainID:     chainID,
		deriver:     deriver,
		explorerURL: strings.TrimSuffix(cfg.ExplorerURL, "/"),
	}, nil
}

func (c *EthClient) CheckName(ctx context.Context, name string) (Availability, error) {
	if !names.Valid(name) {
		return Availability{Valid: false, Available: false}, nil
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "available", name)
	if err != nil {
		return Availability{}, fmt.Errorf("registrar available(%s): %w", name, err)
	}
	available, ok := out[0].(bool)
	if !ok {
		return Availability{}, fmt.Errorf("registrar available(%s): unexpected result", name)
	}
	return Availability{Valid: true, Available: available}, nil
}

func (c *EthClient) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", address, err)
	}
	return balance, nil
}

func (c *EthClient) FeeData(ctx context.Context) (FeeData, error) {
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("fetch head: %w", err)
	}
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("suggest tip: %w", err)
	}

	maxFee := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return FeeData{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}, nil
}

func (c *EthClient) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	key, err := c.deriver.KeyFor(req.Path)
	if err != nil {
		return "", err
	}

	nonce, err := c.client.PendingNonceAt(ctx, req.From)
	if err != nil {
		return "", fmt.Errorf("pending nonce for %s: %w", req.From, err)
	}

	fees, err := c.FeeData(ctx)
	if err != nil {
		return "", err
	}

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       req.GasLimit,
		To:        &req.To,
		Value:     req.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (c *EthClient) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if req.Value == nil || req.Value.Sign() <= 0 {
		return RegisterResult{}, fmt.Errorf("registration value must be positive")
	}

	key, err := c.deriver.KeyFor(req.Path)
	if err != nil {
		return RegisterResult{}, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = req.Value
	opts.GasLimit = 0 // let node estimate

	call := struct {
		Name          string
		Owner         common.Address
		Duration      *big.Int
		Resolver      common.Address
		Data          [][]byte
		ReverseRecord bool
	}{
		Name:     req.Name,
		Owner:    req.Owner,
		Duration: registrationDuration,
	}

	tx, err := c.contract.Transact(opts, "register", call)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("register %s: %w", req.Name, err)
	}

	return RegisterResult{
		TxHash:       tx.Hash().Hex(),
		ExplorerLink: c.explorerURL + "/tx/" + tx.Hash().Hex(),
	}, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}
