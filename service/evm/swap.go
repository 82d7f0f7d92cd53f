package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func (c *Client) callMsg(call swap.Call) (ethereum.CallMsg, error) {
	data, err := call.Descriptor.Encode(call.Args...)
	if err != nil {
		return ethereum.CallMsg{}, err
	}
	to := common.HexToAddress(call.Target.Address)
	msg := ethereum.CallMsg{To: &to, Data: data}
	if call.From != "" {
		msg.From = common.HexToAddress(call.From)
	}
	return msg, nil
}

// Simulate executes the call against the latest state without broadcasting
// it. A revert is returned as an error; on success the raw return data and
// the gas estimate are returned as the preview.
func (c *Client) Simulate(ctx context.Context, call swap.Call) (*swap.SimulationOutput, error) {
	msg, err := c.callMsg(call)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "simulating call",
		"chain", c.cfg.Chain,
		"target", call.Target.Address,
		"function", call.Descriptor.Name(),
		"from", call.From,
	)

	ret, err := c.callContract(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", call.Descriptor.Name(), err)
	}

	gas, err := c.estimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", call.Descriptor.Name(), err)
	}

	return &swap.SimulationOutput{ReturnData: ret, GasLimit: gas}, nil
}

// Submit signs and broadcasts the call as an EIP-1559 transaction and
// returns its hash. The gas limit of a prepared simulation is reused.
func (c *Client) Submit(ctx context.Context, call swap.Call, prepared *swap.SimulationOutput) (string, error) {
	w := c.cfg.Wallet
	if w == nil || w.chainID == nil {
		return "", swap.ErrNoSession
	}

	msg, err := c.callMsg(call)
	if err != nil {
		return "", err
	}
	msg.From = w.address

	start := time.Now()
	nonce, err := c.rpc.PendingNonceAt(ctx, w.address)
	c.observe("eth_getTransactionCount", start, err)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	var gas uint64
	if prepared != nil && prepared.GasLimit > 0 {
		gas = prepared.GasLimit
	} else {
		gas, err = c.estimateGas(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
	}
	gas += gas * c.cfg.GasBufferPct / 100

	start = time.Now()
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	c.observe("eth_getBlockByNumber", start, err)
	if err != nil {
		return "", fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	start = time.Now()
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	c.observe("eth_maxPriorityFeePerGas", start, err)
	if err != nil {
		return "", fmt.Errorf("suggest tip: %w", err)
	}

	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	tx, err := types.SignNewTx(w.key, types.LatestSignerForChainID(w.chainID), &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        msg.To,
		Value:     big.NewInt(0),
		Data:      msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	start = time.Now()
	err = c.rpc.SendTransaction(ctx, tx)
	c.observe("eth_sendRawTransaction", start, err)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction sent",
		"chain", c.cfg.Chain,
		"hash", tx.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)
	return tx.Hash().Hex(), nil
}

// Confirm polls for the receipt of handle until it is mined, ctx is done or
// the configured timeout elapses.
func (c *Client) Confirm(ctx context.Context, handle string, opts swap.ConfirmOptions) (*swap.Receipt, error) {
	hash := common.HexToHash(handle)
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("invalid transaction hash %q", handle)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.receipt(ctx, hash)
		switch {
		case err == nil:
			return c.settle(ctx, handle, receipt, opts)
		case errors.Is(err, ethereum.NotFound):
		default:
			// Transient node errors keep the watch alive until the timeout.
			c.logger.WarnContext(ctx, "receipt lookup failed",
				"chain", c.cfg.Chain,
				"hash", handle,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, handle)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationPoll(c.cfg.Chain)
	}
	start := time.Now()
	receipt, err := c.rpc.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		c.observe("eth_getTransactionReceipt", start, nil)
	} else {
		c.observe("eth_getTransactionReceipt", start, err)
	}
	return receipt, err
}

func (c *Client) settle(ctx context.Context, handle string, receipt *types.Receipt, opts swap.ConfirmOptions) (*swap.Receipt, error) {
	out := &swap.Receipt{Handle: handle, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s in block %d", ErrReverted, handle, out.Block)
	}

	msg := opts.SuccessMessage
	if msg == "" {
		msg = "transaction confirmed"
	}
	c.logger.InfoContext(ctx, msg,
		"chain", c.cfg.Chain,
		"hash", handle,
		"block", out.Block,
		"gas_used", out.GasUsed,
	)
	return out, nil
}
