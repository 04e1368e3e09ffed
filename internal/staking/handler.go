// Package staking keeps per-account stake totals from a domain's staking contract.
package staking

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
	"github.com/core-coin/speculum/pkg/validation"
)

const (
	EventStaked   = "Staked"
	EventUnstaked = "Unstaked"
)

// ErrStakeNotFound is returned when unstaking from an (account, token) pair that never staked.
var ErrStakeNotFound = errors.New("stake not found")

// TokenResolver maps a token address to its rate-table symbol.
type TokenResolver interface {
	TokenSymbol(address string) (string, error)
}

type Handler struct {
	logger  *logger.Logger
	repo    models.StakeRepository
	tokens  TokenResolver
	emitter models.Emitter
}

func NewHandler(logger *logger.Logger, repo models.StakeRepository, tokens TokenResolver, emitter models.Emitter) *Handler {
	return &Handler{logger: logger, repo: repo, tokens: tokens, emitter: emitter}
}

func (h *Handler) Events() []string {
	return []string{EventStaked, EventUnstaked}
}

func (h *Handler) Handle(ctx context.Context, ev models.Event) error {
	user, err := ev.String("user")
	if err != nil {
		return err
	}
	token, err := ev.String("token")
	if err != nil {
		return err
	}
	amount, err := ev.Decimal("amount")
	if err != nil {
		return err
	}
	account := validation.NormalizeAddress(user)
	token = validation.NormalizeAddress(token)

	switch ev.Event {
	case EventStaked:
		err = h.stake(ctx, account, token, amount)
	case EventUnstaked:
		err = h.unstake(ctx, account, token, amount)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
	}

	h.logger.Debugw("Stake updated", "event", ev.Event, "account", account, "token", token, "amount", amount.String())

	summary, err := Summary(ctx, h.repo, account, DefaultCurrency)
	if err != nil {
		return fmt.Errorf("failed to build stake summary: %w", err)
	}
	h.emitter.Emit(models.EmitUpdated, map[string]interface{}{
		"event":           ev.Event,
		"account":         account,
		"totalStakedFiat": summary.TotalStakedFiat,
		"stakes":          summary.Stakes,
	})
	return nil
}

func (h *Handler) stake(ctx context.Context, account, token string, amount decimal.Decimal) error {
	stake, err := h.repo.FindStake(ctx, account, token)
	if err != nil {
		return err
	}
	if stake == nil {
		symbol, err := h.tokens.TokenSymbol(token)
		if err != nil {
			return err
		}
		stake = &models.Stake{Account: account, Token: token, Symbol: symbol, Total: amount}
		return h.repo.CreateStake(ctx, stake)
	}
	stake.Total = stake.Total.Add(amount)
	return h.repo.SaveStake(ctx, stake)
}

func (h *Handler) unstake(ctx context.Context, account, token string, amount decimal.Decimal) error {
	stake, err := h.repo.FindStake(ctx, account, token)
	if err != nil {
		return err
	}
	if stake == nil {
		return fmt.Errorf("%w: stake for account %s, token %s does not exist", ErrStakeNotFound, account, token)
	}
	stake.Total = stake.Total.Sub(amount)
	return h.repo.SaveStake(ctx, stake)
}
