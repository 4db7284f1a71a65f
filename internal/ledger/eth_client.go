package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tokenbank/internal/contracts"
	"tokenbank/internal/token"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient implements Client against the token and bank contracts over an
// Ethereum JSON-RPC node.
type EthClient struct {
	client    *ethclient.Client
	tokenC    *bind.BoundContract
	bankC     *bind.BoundContract
	bankAddr  common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
	pollEvery time.Duration
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	TokenAddress  string
	BankAddress   string
	// PollInterval is the receipt polling cadence; defaults to 2s.
	PollInterval time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	if !common.IsHexAddress(cfg.BankAddress) {
		return nil, fmt.Errorf("invalid bank address %q", cfg.BankAddress)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	erc20ABI, err := abi.JSON(strings.NewReader(contracts.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bankABI, err := abi.JSON(strings.NewReader(contracts.TokenBankABI))
	if err != nil {
		return nil, fmt.Errorf("parse bank abi: %w", err)
	}

	tokenAddr := common.HexToAddress(cfg.TokenAddress)
	bankAddr := common.HexToAddress(cfg.BankAddress)

	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting transactions")
	}
	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EthClient{
		client:    cli,
		tokenC:    bind.NewBoundContract(tokenAddr, erc20ABI, cli, cli, cli),
		bankC:     bind.NewBoundContract(bankAddr, bankABI, cli, cli, cli),
		bankAddr:  bankAddr,
		chainID:   chainID,
		transacts: txOpts,
		pollEvery: poll,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) EscrowBalance(ctx context.Context, account string) (token.Amount, error) {
	if !common.IsHexAddress(account) {
		return token.Amount{}, &RemoteReadError{Op: "escrow balance", Err: fmt.Errorf("invalid account %q", account)}
	}
	return c.readUint(ctx, c.bankC, "escrow balance", "balanceOf", common.HexToAddress(account))
}

func (c *EthClient) Allowance(ctx context.Context, owner, spender string) (token.Amount, error) {
	if !common.IsHexAddress(owner) || !common.IsHexAddress(spender) {
		return token.Amount{}, &RemoteReadError{Op: "allowance", Err: fmt.Errorf("invalid address")}
	}
	return c.readUint(ctx, c.tokenC, "allowance", "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
}

func (c *EthClient) readUint(ctx context.Context, contract *bind.BoundContract, op, method string, args ...interface{}) (token.Amount, error) {
	var out []interface{}
	err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	if err != nil {
		return token.Amount{}, &RemoteReadError{Op: op, Err: err}
	}
	if len(out) != 1 {
		return token.Amount{}, &RemoteReadError{Op: op, Err: fmt.Errorf("unexpected output arity %d", len(out))}
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return token.Amount{}, &RemoteReadError{Op: op, Err: fmt.Errorf("unexpected output type %T", out[0])}
	}
	amt, err := token.FromBig(v)
	if err != nil {
		return token.Amount{}, &RemoteReadError{Op: op, Err: err}
	}
	return amt, nil
}

func (c *EthClient) SubmitApprove(ctx context.Context, spender string, amount token.Amount) (TxID, error) {
	if !common.IsHexAddress(spender) {
		return "", &SubmissionError{Op: OpApprove, Amount: amount.String(), Err: fmt.Errorf("invalid spender %q", spender)}
	}
	return c.transact(ctx, c.tokenC, OpApprove, amount, "approve",
		common.HexToAddress(spender), amount.BigInt())
}

func (c *EthClient) SubmitDeposit(ctx context.Context, amount token.Amount) (TxID, error) {
	return c.transact(ctx, c.bankC, OpDeposit, amount, "deposit", amount.BigInt())
}

func (c *EthClient) SubmitWithdraw(ctx context.Context, amount token.Amount) (TxID, error) {
	return c.transact(ctx, c.bankC, OpWithdraw, amount, "withdraw", amount.BigInt())
}

func (c *EthClient) transact(ctx context.Context, contract *bind.BoundContract, op string, amount token.Amount, method string, args ...interface{}) (TxID, error) {
	opts := *c.transacts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return "", &SubmissionError{Op: op, Amount: amount.String(), Err: err}
	}
	return TxID(tx.Hash().Hex()), nil
}

// AwaitConfirmation polls for the receipt until mined, reverted or the context
// ends. A revert surfaces as a *ConfirmationError.
func (c *EthClient) AwaitConfirmation(ctx context.Context, id TxID) (*Receipt, error) {
	hash := common.HexToHash(string(id))
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, &ConfirmationError{TxID: id, Err: fmt.Errorf("transaction reverted")}
			}
			return &Receipt{TxID: id, BlockNumber: receipt.BlockNumber.Uint64()}, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, &ConfirmationError{TxID: id, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, &ConfirmationError{TxID: id, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}
