// Package evm grounds platform.RPCDriver and platform.SignerDriver against
// Base, an OP-stack EVM chain, using go-ethereum's client library the way
// the other chain-facing repos in the retrieval pack use it: dial once at
// Start, reuse the *ethclient.Client for every call, and translate
// go-ethereum's types at the edge so the rest of the payout pipeline never
// imports it directly.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/R3E-Network/proofwork/internal/platform"
)

// erc20BalanceOfSelector is the first four bytes of
// keccak256("balanceOf(address)"), precomputed so a balance check never
// needs the full ERC-20 ABI loaded.
var erc20BalanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

// RPCDriver implements platform.RPCDriver against a single Base RPC
// endpoint. It holds no chain-specific state beyond the dialed client.
type RPCDriver struct {
	url    string
	client *ethclient.Client
}

// NewRPCDriver returns a driver that dials url on Start.
func NewRPCDriver(url string) *RPCDriver {
	return &RPCDriver{url: url}
}

func (d *RPCDriver) Name() string { return "evm-rpc" }

func (d *RPCDriver) Start(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, d.url)
	if err != nil {
		return fmt.Errorf("evm: dial %s: %w", d.url, err)
	}
	d.client = client
	return nil
}

func (d *RPCDriver) Stop(ctx context.Context) error {
	if d.client != nil {
		d.client.Close()
	}
	return nil
}

func (d *RPCDriver) Ping(ctx context.Context) error {
	if d.client == nil {
		return fmt.Errorf("evm: driver not started")
	}
	_, err := d.client.BlockNumber(ctx)
	return err
}

func (d *RPCDriver) SupportedChains() []platform.ChainID {
	return []platform.ChainID{platform.ChainBase}
}

func (d *RPCDriver) NonceForPending(ctx context.Context, chain platform.ChainID, address string) (uint64, error) {
	if err := d.requireBase(chain); err != nil {
		return 0, err
	}
	return d.client.PendingNonceAt(ctx, common.HexToAddress(address))
}

func (d *RPCDriver) GetTransaction(ctx context.Context, chain platform.ChainID, txHash string) (*platform.Transaction, error) {
	if err := d.requireBase(chain); err != nil {
		return nil, err
	}
	hash := common.HexToHash(txHash)
	receipt, err := d.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, platform.ErrTransactionPending{Hash: txHash}
		}
		return nil, fmt.Errorf("evm: get receipt: %w", err)
	}

	status := platform.TxStatusSuccess
	if receipt.Status == types.ReceiptStatusFailed {
		status = platform.TxStatusFailed
	}

	var confirmations uint64
	if head, err := d.client.BlockNumber(ctx); err == nil && head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}

	return &platform.Transaction{
		Hash:          receipt.TxHash.Hex(),
		BlockHeight:   receipt.BlockNumber.Uint64(),
		Confirmations: confirmations,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (d *RPCDriver) SendRawTransaction(ctx context.Context, chain platform.ChainID, rawTx []byte) (string, error) {
	if err := d.requireBase(chain); err != nil {
		return "", err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", fmt.Errorf("evm: decode raw transaction: %w", err)
	}
	if err := d.client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("evm: broadcast: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (d *RPCDriver) CallContract(ctx context.Context, chain platform.ChainID, call platform.ContractCall) ([]byte, error) {
	if err := d.requireBase(chain); err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(call.From),
		To:    addressPtr(call.To),
		Data:  call.Data,
		Value: call.Value,
		Gas:   call.Gas,
	}
	return d.client.CallContract(ctx, msg, nil)
}

func (d *RPCDriver) EstimateGas(ctx context.Context, chain platform.ChainID, call platform.ContractCall) (uint64, error) {
	if err := d.requireBase(chain); err != nil {
		return 0, err
	}
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(call.From),
		To:    addressPtr(call.To),
		Data:  call.Data,
		Value: call.Value,
	}
	return d.client.EstimateGas(ctx, msg)
}

// GetTokenBalance reads an ERC-20 balanceOf(address) via a raw contract
// call, avoiding a generated ABI binding for a single read-only method.
func (d *RPCDriver) GetTokenBalance(ctx context.Context, chain platform.ChainID, token, address string) (*big.Int, error) {
	if err := d.requireBase(chain); err != nil {
		return nil, err
	}
	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector[:]...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	out, err := d.client.CallContract(ctx, ethereum.CallMsg{
		To:   addressPtr(token),
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (d *RPCDriver) requireBase(chain platform.ChainID) error {
	if chain != platform.ChainBase {
		return fmt.Errorf("evm: unsupported chain %q", chain)
	}
	if d.client == nil {
		return fmt.Errorf("evm: driver not started")
	}
	return nil
}

func addressPtr(hex string) *common.Address {
	if hex == "" {
		return nil
	}
	addr := common.HexToAddress(hex)
	return &addr
}

var _ platform.RPCDriver = (*RPCDriver)(nil)
