package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/database"
	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/cashflows"
	"github.com/folioledger/folioledger/internal/utils"
)

// SettlementBook records the cash movement a persisted trade settles with,
// inside the trade's own transaction. Implemented by cashflows.Repository.
type SettlementBook interface {
	CreateTx(tx *sql.Tx, flow *cashflows.CashFlow) error
}

// MatcherService records trades and keeps the FIFO matching state of every
// (portfolio, asset) scope consistent with the trade history.
//
// Matching state is always the result of replaying the scope's full trade
// sequence, so recording a back-dated trade naturally re-derives every match
// from the affected history. Per-scope serialization is enforced with a
// keyed mutex: two concurrent inserts for the same scope can never produce
// overlapping matches.
//
// Every persisted trade books its settlement as a cash flow: buys spend
// gross plus fee and tax, sells receive gross minus fee and tax. The cash
// balance therefore reflects deployed capital, not just external flows.
type MatcherService struct {
	tradeRepo *TradeRepository
	cash      SettlementBook
	locks     *utils.KeyedMutex
	log       zerolog.Logger
}

// NewMatcherService creates a new matcher service
func NewMatcherService(tradeRepo *TradeRepository, cash SettlementBook, log zerolog.Logger) *MatcherService {
	return &MatcherService{
		tradeRepo: tradeRepo,
		cash:      cash,
		locks:     utils.NewKeyedMutex(),
		log:       log.With().Str("service", "matcher").Logger(),
	}
}

// RecordTrade validates and appends a trade, then re-derives the matching
// state for its (portfolio, asset) scope in the same transaction.
//
// Failure semantics:
//   - validation errors (bad fields, a sell exceeding the open quantity)
//     reject the trade outright; nothing is persisted;
//   - a consistency fault during matching persists the trade flagged
//     unmatched, with the previous matching state left untouched. No lot is
//     ever persisted from a failed match.
func (s *MatcherService) RecordTrade(ctx context.Context, trade *Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	if trade.Source == "" {
		trade.Source = "manual"
	}

	key := trade.PortfolioID + "|" + trade.AssetID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return err
	}

	existing, err := s.tradeRepo.ListByScope(trade.PortfolioID, trade.AssetID)
	if err != nil {
		return fmt.Errorf("failed to load trade history: %w", err)
	}

	// Replay the scope with the new trade appended. Replay sorts by date
	// and keeps insertion order within a date, so the new trade lands after
	// existing trades of the same day.
	sequence := append(append([]*Trade{}, existing...), trade)
	result, replayErr := Replay(sequence)

	if replayErr != nil {
		if errors.Is(replayErr, domain.ErrValidation) {
			// Rejected outright: the trade is never persisted.
			return replayErr
		}

		// Consistency fault: append the trade flagged unmatched so the
		// ledger stays complete, but leave matching state untouched. The
		// trade still settles: cash moved regardless of matching.
		err := database.WithTransaction(s.tradeRepo.DB(), func(tx *sql.Tx) error {
			if err := s.tradeRepo.InsertTx(tx, trade); err != nil {
				return err
			}
			if err := s.bookSettlement(tx, trade); err != nil {
				return err
			}
			return s.tradeRepo.MarkUnmatchedTx(tx, trade.ID)
		})
		if err != nil {
			return fmt.Errorf("failed to persist unmatched trade: %w", err)
		}

		s.log.Error().
			Err(replayErr).
			Str("portfolio", trade.PortfolioID).
			Str("asset", trade.AssetID).
			Int64("trade_id", trade.ID).
			Msg("Matching failed, trade recorded unmatched")
		return replayErr
	}

	err = database.WithTransaction(s.tradeRepo.DB(), func(tx *sql.Tx) error {
		if err := s.tradeRepo.InsertTx(tx, trade); err != nil {
			return err
		}
		if err := s.bookSettlement(tx, trade); err != nil {
			return err
		}
		return s.tradeRepo.ReplaceMatchesTx(tx, trade.PortfolioID, trade.AssetID, sequence, result)
	})
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}

	s.log.Info().
		Str("portfolio", trade.PortfolioID).
		Str("asset", trade.AssetID).
		Str("side", string(trade.Side)).
		Str("quantity", trade.Quantity.String()).
		Str("price", trade.Price.String()).
		Int("lots", len(result.Lots)).
		Msg("Trade recorded")

	return nil
}

// bookSettlement writes the trade's settlement cash flow inside the trade's
// transaction. A sell whose costs exactly cancel its proceeds moves no cash
// and books nothing.
func (s *MatcherService) bookSettlement(tx *sql.Tx, trade *Trade) error {
	flow := settlementFlow(trade)
	if flow == nil {
		return nil
	}
	return s.cash.CreateTx(tx, flow)
}

// settlementFlow derives the cash movement for a trade, dated on the trade
// date so back-dated trades settle into the correct balance window.
func settlementFlow(t *Trade) *cashflows.CashFlow {
	gross := t.Quantity.Mul(t.Price)
	costs := t.Fee.Add(t.Tax)

	flow := &cashflows.CashFlow{
		PortfolioID: t.PortfolioID,
		FlowDate:    t.TradeDate,
		Description: fmt.Sprintf("settlement of %s %s %s @ %s", t.Side, t.Quantity, t.AssetID, t.Price),
	}
	if t.Side == domain.SideBuy {
		flow.Type = cashflows.FlowWithdrawal
		flow.Amount = gross.Add(costs)
		return flow
	}

	net := gross.Sub(costs)
	switch {
	case net.IsPositive():
		flow.Type = cashflows.FlowDeposit
		flow.Amount = net
	case net.IsNegative():
		// Costs exceeding proceeds drain cash.
		flow.Type = cashflows.FlowWithdrawal
		flow.Amount = net.Neg()
	default:
		return nil
	}
	return flow
}

// RematchAsset re-derives the matching state for a (portfolio, asset) scope
// from its persisted trade history. This is the recovery path: it makes the
// matched-lot table exactly reproducible from the trade ledger. Rematching
// rewrites derived state only; the trades already settled when they were
// recorded, so no cash flow is booked here.
func (s *MatcherService) RematchAsset(ctx context.Context, portfolioID, assetID string) error {
	key := portfolioID + "|" + assetID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return err
	}

	trades, err := s.tradeRepo.ListByScope(portfolioID, assetID)
	if err != nil {
		return fmt.Errorf("failed to load trade history: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	result, err := Replay(trades)
	if err != nil {
		return fmt.Errorf("rematch replay failed for %s/%s: %w", portfolioID, assetID, err)
	}

	err = database.WithTransaction(s.tradeRepo.DB(), func(tx *sql.Tx) error {
		return s.tradeRepo.ReplaceMatchesTx(tx, portfolioID, assetID, trades, result)
	})
	if err != nil {
		return fmt.Errorf("failed to persist rematch: %w", err)
	}

	s.log.Info().
		Str("portfolio", portfolioID).
		Str("asset", assetID).
		Int("trades", len(trades)).
		Int("lots", len(result.Lots)).
		Msg("Asset rematched")

	return nil
}
