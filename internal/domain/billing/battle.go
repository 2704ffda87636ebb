package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/logger"
)

type StartBattleInput struct {
	BattleID uuid.UUID
	Host1ID  uuid.UUID
	Host2ID  uuid.UUID
}

func (s *Service) StartBattle(ctx context.Context, in StartBattleInput) (*Battle, error) {
	if in.Host1ID == uuid.Nil || in.Host2ID == uuid.Nil || in.Host1ID == in.Host2ID {
		return nil, ErrInvalidInput
	}
	if in.BattleID == uuid.Nil {
		in.BattleID = uuid.New()
	}

	now := s.now()
	battle := &Battle{
		ID:        in.BattleID,
		Host1ID:   in.Host1ID,
		Host2ID:   in.Host2ID,
		State:     StateActive,
		StartedAt: &now,
		CreatedAt: now,
	}
	err := s.atomically(ctx, "start_battle", func(q database.Querier) error {
		return s.repo.CreateBattle(ctx, q, battle)
	})
	if err != nil {
		return nil, err
	}
	return battle, nil
}

// TipBattle debits the tipper in favour of one host. The stars stay with the
// platform until settlement rewards the winner.
func (s *Service) TipBattle(ctx context.Context, battleID, tipperID, hostID uuid.UUID, amount int64, key string) (*ledger.Transaction, error) {
	if tipperID == uuid.Nil || amount <= 0 {
		return nil, ErrInvalidInput
	}
	if tipperID == hostID {
		return nil, ErrSelfBilling
	}
	if key == "" {
		key = uuid.NewString()
	}

	var (
		out    *ledger.Transaction
		battle *Battle
	)
	err := s.atomically(ctx, "tip_battle", func(q database.Querier) error {
		out, battle = nil, nil
		b, err := s.repo.GetBattle(ctx, q, battleID, true)
		if err != nil {
			return err
		}
		if b.State != StateActive {
			return ErrSessionNotActive
		}
		slot := b.HostSlot(hostID)
		if slot == 0 {
			return ErrInvalidRecipient
		}

		tx, err := s.ledger.OpenAndDebitTx(ctx, q, ledger.OpenRequest{
			UserID:         tipperID,
			Type:           ledger.TypeBattleTip,
			Amount:         amount,
			Currency:       wallet.CurrencyStars,
			Description:    "Battle tip",
			Metadata:       ledger.BattleTipMeta{BattleID: battleID, HostID: hostID},
			IdempotencyKey: fmt.Sprintf("battle_tip:%s:%s:%s", battleID, tipperID, key),
		})
		if errors.Is(err, ledger.ErrAlreadyBilled) {
			out = tx
			return err
		}
		if err != nil {
			return err
		}

		if err := s.repo.AddBattleTips(ctx, q, battleID, slot, amount); err != nil {
			return err
		}
		if slot == 1 {
			b.Host1Tips += amount
		} else {
			b.Host2Tips += amount
		}
		out, battle = tx, b
		return nil
	})
	if errors.Is(err, ledger.ErrAlreadyBilled) {
		return out, err
	}
	if err != nil {
		return nil, err
	}

	ledger.LogApplied(ctx, out)
	s.notify(ctx, battle.Host1ID, notification.EventBattleTip, battle)
	s.notify(ctx, battle.Host2ID, notification.EventBattleTip, battle)
	return out, nil
}

// SettleBattle ends the battle and credits the winner a share of all tips. Ties
// reward nobody. Settling twice returns the stored result.
func (s *Service) SettleBattle(ctx context.Context, battleID uuid.UUID) (*Battle, error) {
	var (
		out    *Battle
		reward *ledger.Transaction
		replay bool
	)
	err := s.atomically(ctx, "settle_battle", func(q database.Querier) error {
		out, reward, replay = nil, nil, false
		b, err := s.repo.GetBattle(ctx, q, battleID, true)
		if err != nil {
			return err
		}
		if b.State == StateEnded {
			out, replay = b, true
			return nil
		}
		if b.State != StateActive {
			return ErrSessionNotActive
		}

		t1, err := s.ledger.SumCompletedTx(ctx, q, ledger.TypeBattleTip, b.ID, &b.Host1ID)
		if err != nil {
			return err
		}
		t2, err := s.ledger.SumCompletedTx(ctx, q, ledger.TypeBattleTip, b.ID, &b.Host2ID)
		if err != nil {
			return err
		}
		if t1 != b.Host1Tips || t2 != b.Host2Tips {
			logger.LogWarn(ctx, "battle tip counters disagree with ledger",
				"battle_id", b.ID.String(),
				"host1_counter", b.Host1Tips, "host1_ledger", t1,
				"host2_counter", b.Host2Tips, "host2_ledger", t2,
			)
			b.Host1Tips, b.Host2Tips = t1, t2
		}

		now := s.now()
		b.State = StateEnded
		b.SettledAt = &now

		winner, winnerTotal, loserTotal := battleWinner(b, t1, t2)
		if winner != uuid.Nil {
			b.WinnerID = idPtr(winner)
			amount := (t1 + t2) * s.cfg.BattleRewardPercent / 100
			if amount > 0 {
				tx, err := s.ledger.OpenAndCreditTx(ctx, q, ledger.OpenRequest{
					UserID:      winner,
					Type:        ledger.TypeBattleReward,
					Amount:      amount,
					Currency:    wallet.CurrencyStars,
					Description: "Battle reward",
					Metadata: ledger.BattleRewardMeta{
						BattleID:    b.ID,
						WinnerTotal: winnerTotal,
						LoserTotal:  loserTotal,
						RewardPct:   s.cfg.BattleRewardPercent,
					},
					IdempotencyKey: "battle_reward:" + b.ID.String(),
				})
				if err != nil && !errors.Is(err, ledger.ErrAlreadyBilled) {
					return err
				}
				b.RewardTransactionID = idPtr(tx.ID)
				b.RewardAmount = tx.Amount
				reward = tx
			}
		}

		if err := s.repo.UpdateBattle(ctx, q, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return out, nil
	}

	ledger.LogApplied(ctx, reward)
	logger.LogInfo(ctx, "battle settled",
		"battle_id", out.ID.String(),
		"host1_tips", out.Host1Tips,
		"host2_tips", out.Host2Tips,
		"reward", out.RewardAmount,
	)
	s.notify(ctx, out.Host1ID, notification.EventBattleSettled, out)
	s.notify(ctx, out.Host2ID, notification.EventBattleSettled, out)
	return out, nil
}

// battleWinner returns uuid.Nil on a tie.
func battleWinner(b *Battle, t1, t2 int64) (winner uuid.UUID, winnerTotal, loserTotal int64) {
	switch {
	case t1 > t2:
		return b.Host1ID, t1, t2
	case t2 > t1:
		return b.Host2ID, t2, t1
	}
	return uuid.Nil, t1, t2
}

func (s *Service) GetBattle(ctx context.Context, battleID uuid.UUID) (*Battle, error) {
	return s.repo.GetBattle(ctx, s.db.DB(), battleID, false)
}
