package engine

import (
	"context"
	"time"

	"basednames/internal/chain"
	"basednames/internal/social"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// KickDeposits starts the deposit monitor if it is not running. The CAS
// guard makes the worker a singleton and the kick idempotent.
func (e *Engine) KickDeposits() bool {
	if !e.depositRunning.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer e.depositRunning.Store(false)
		e.runDeposits(e.runCtx)
	}()
	return true
}

func (e *Engine) runDeposits(ctx context.Context) {
	e.log.Info().Msg("deposit monitor started")
	for ctx.Err() == nil {
		if !e.depositStep(ctx) {
			// attempt-cap escalation moves straight to the next item
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.DepositPollInterval):
		}
	}
	e.log.Info().Msg("deposit monitor stopped")
}

// depositStep handles one queue iteration and reports whether the loop
// should sleep before the next one. Sleeps apply on every path except the
// attempt-cap escalation, which costs no upstream call.
func (e *Engine) depositStep(ctx context.Context) bool {
	item, ok := e.deposits.Pop()
	if !ok {
		return true
	}

	log := e.log.With().
		Str("request_id", item.RequestID).
		Str("name", item.Name).
		Str("address", item.DepositAddress.Hex()).
		Int("attempt", item.DepositAttempt).
		Logger()

	if item.DepositAttempt >= e.cfg.MaxDepositAttempts {
		log.Info().Msg("deposit attempts exhausted, routing to refund")
		e.refunds.Push(RefundItem{
			RequestID:      item.RequestID,
			RequesterID:    item.RequesterID,
			DerivationPath: item.DerivationPath,
			DepositAddress: item.DepositAddress,
		})
		e.tracker.Merge(item.ConversationID, StatePatch{Status: StatusMaxAttempts})
		e.metrics.incRequest("deposit_expired")
		e.KickRefunds()
		return false
	}

	balance, err := e.chain.Balance(ctx, item.DepositAddress)
	if err != nil {
		log.Warn().Err(err).Msg("balance check failed, re-queueing")
		e.requeueDeposit(item)
		return true
	}

	if balance.Cmp(item.Price) >= 0 {
		tx, err := e.lookup.FindFundingTx(ctx, item.DepositAddress, false)
		if err != nil {
			log.Warn().Err(err).Msg("funding tx lookup failed, re-queueing")
			e.requeueDeposit(item)
			return true
		}
		if tx != nil {
			e.registerAndSettle(ctx, item, tx.From, log)
			return true
		}

		internalTx, err := e.lookup.FindFundingTx(ctx, item.DepositAddress, true)
		if err != nil {
			log.Warn().Err(err).Msg("internal tx lookup failed, re-queueing")
			e.requeueDeposit(item)
			return true
		}
		if internalTx != nil {
			// contract-wallet funding: registration unsupported, refund only
			log.Info().Str("funder", internalTx.From.Hex()).Msg("internal funding detected, routing to refund")
			e.refunds.Push(RefundItem{
				RequestID:      item.RequestID,
				RequesterID:    item.RequesterID,
				DerivationPath: item.DerivationPath,
				DepositAddress: item.DepositAddress,
			})
			e.KickRefunds()
			return true
		}
		// funded but the explorer has not indexed the tx yet
	}

	e.requeueDeposit(item)
	return true
}

func (e *Engine) requeueDeposit(item DepositItem) {
	item.DepositAttempt++
	e.deposits.Push(item)
}

// registerAndSettle submits the registration and, regardless of its outcome,
// queues a refund for any balance the deposit address retains.
func (e *Engine) registerAndSettle(ctx context.Context, item DepositItem, owner common.Address, log zerolog.Logger) {
	result, err := e.chain.Register(ctx, chain.RegisterRequest{
		Path:           item.DerivationPath,
		Name:           item.Name,
		DepositAddress: item.DepositAddress,
		Owner:          owner,
		Value:          item.Price,
	})
	if err != nil {
		// the registration call is never retried automatically
		log.Error().Err(err).Msg("registration failed")
		e.tracker.Merge(item.ConversationID, StatePatch{Status: StatusRegistrationFailed})
		e.metrics.incRegistration("failed")
	} else {
		log.Info().Str("tx", result.TxHash).Msg("name registered")
		e.tracker.Merge(item.ConversationID, StatePatch{Status: StatusResolved})
		e.metrics.incRegistration("success")
		target := social.ReplyTarget{MessageID: item.RequestID, RequesterID: item.RequesterID}
		if _, err := e.replier.Reply(ctx, successReply(item.Name, owner, result.ExplorerLink), target); err != nil {
			log.Warn().Err(err).Msg("success reply failed")
		}
	}

	remaining, err := e.chain.Balance(ctx, item.DepositAddress)
	if err != nil {
		log.Warn().Err(err).Msg("leftover balance check failed")
		return
	}
	if remaining.Sign() > 0 {
		log.Info().Str("remaining_wei", remaining.String()).Msg("leftover balance, queueing refund")
		e.refunds.Push(RefundItem{
			RequestID:      item.RequestID,
			RequesterID:    item.RequesterID,
			DerivationPath: item.DerivationPath,
			DepositAddress: item.DepositAddress,
		})
		e.KickRefunds()
	}
}
