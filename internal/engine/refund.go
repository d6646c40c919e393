package engine

import (
	"context"
	"math/big"
	"time"

	"basednames/internal/archive"
	"basednames/internal/chain"
)

// KickRefunds starts the refund processor if it is not running.
func (e *Engine) KickRefunds() bool {
	if !e.refundRunning.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer e.refundRunning.Store(false)
		e.runRefunds(e.runCtx)
	}()
	return true
}

func (e *Engine) runRefunds(ctx context.Context) {
	e.log.Info().Msg("refund processor started")
	for ctx.Err() == nil {
		e.refundStep(ctx)
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.RefundPollInterval):
		}
	}
	e.log.Info().Msg("refund processor stopped")
}

// refundStep handles one queue iteration. Every dequeued item is archived
// before anything else; a failed transfer is never re-queued and is left for
// manual resolution against the archive.
func (e *Engine) refundStep(ctx context.Context) {
	item, ok := e.refunds.Pop()
	if !ok {
		return
	}

	log := e.log.With().
		Str("request_id", item.RequestID).
		Str("address", item.DepositAddress.Hex()).
		Logger()

	entry := archive.Entry{
		RequestID:      item.RequestID,
		RequesterID:    item.RequesterID,
		DerivationPath: item.DerivationPath,
		DepositAddress: item.DepositAddress.Hex(),
		RecordedAt:     time.Now().UTC(),
	}
	if err := e.store.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("archive append failed")
	}

	internal := false
	tx, err := e.lookup.FindFundingTx(ctx, item.DepositAddress, false)
	if err != nil {
		log.Warn().Err(err).Msg("funding tx lookup failed")
		tx = nil
	}
	if tx == nil {
		internal = true
		tx, err = e.lookup.FindFundingTx(ctx, item.DepositAddress, true)
		if err != nil {
			log.Warn().Err(err).Msg("internal tx lookup failed")
			tx = nil
		}
	}
	if tx == nil {
		log.Info().Msg("no funding tx found, nothing to refund against")
		e.metrics.incRefund("no_funding_tx")
		return
	}

	balance, err := e.chain.Balance(ctx, item.DepositAddress)
	if err != nil {
		log.Error().Err(err).Msg("balance check failed")
		e.metrics.incRefund("failed")
		return
	}
	if balance.Sign() == 0 {
		log.Info().Msg("no balance left to refund")
		e.metrics.incRefund("empty")
		return
	}

	fees, err := e.chain.FeeData(ctx)
	if err != nil {
		log.Error().Err(err).Msg("fee data fetch failed")
		e.metrics.incRefund("failed")
		return
	}

	amount, gasLimit := e.refundAmount(balance, fees, internal)
	if amount.Sign() <= 0 {
		log.Info().Str("balance_wei", balance.String()).Msg("balance below gas cost, skipping transfer")
		e.metrics.incRefund("dust")
		return
	}

	txHash, err := e.chain.Transfer(ctx, chain.TransferRequest{
		Path:     item.DerivationPath,
		From:     item.DepositAddress,
		To:       tx.From,
		Amount:   amount,
		GasLimit: gasLimit,
	})
	if err != nil {
		log.Error().Err(err).Msg("refund transfer failed")
		e.metrics.incRefund("failed")
		return
	}

	log.Info().
		Str("to", tx.From.Hex()).
		Str("amount_wei", amount.String()).
		Str("tx", txHash).
		Msg("refund sent")
	e.metrics.incRefund("sent")
}

// refundAmount computes the gas-adjusted payout: balance minus the worst
// case gas fee and a fixed safety buffer. Internal-transaction funding pays
// the larger contract-wallet gas limit.
func (e *Engine) refundAmount(balance *big.Int, fees chain.FeeData, internal bool) (*big.Int, uint64) {
	gasLimit := e.cfg.RefundGasLimit
	if internal {
		gasLimit = e.cfg.InternalRefundGasLimit
	}

	gasPrice := new(big.Int).Add(fees.MaxFeePerGas, fees.MaxPriorityFeePerGas)
	gasFee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))

	amount := new(big.Int).Sub(balance, gasFee)
	amount.Sub(amount, e.cfg.RefundBuffer)
	return amount, gasLimit
}
