package usecase

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ WalletUseCase = (*walletUC)(nil)

// WalletUseCase exposes the requester's balance and ledger.
type WalletUseCase interface {
	Wallet(ctx context.Context, userID string, historyLimit int) (*WalletView, error)
}

type WalletView struct {
	UserID  string
	Name    string
	Credit  decimal.Decimal
	History []*model.CreditTransaction
}

type walletUC struct {
	users  repository.UserRepository
	ledger repository.CreditTransactionRepository
	log    *zerolog.Logger
}

func NewWalletUseCase(users repository.UserRepository, ledger repository.CreditTransactionRepository, logger *zerolog.Logger) *walletUC {
	l := logger.With().Str("component", "WalletUC").Logger()
	return &walletUC{users: users, ledger: ledger, log: &l}
}

func (u *walletUC) Wallet(ctx context.Context, userID string, historyLimit int) (*WalletView, error) {
	defer logging.TraceDuration(u.log, "WalletUC.Wallet")()
	usr, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, accountErr(err, userID)
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	hist, err := u.ledger.ListByUser(ctx, repository.NoTX, userID, historyLimit)
	if err != nil {
		return nil, err
	}
	return &WalletView{UserID: usr.ID, Name: usr.DisplayName(), Credit: usr.Credit, History: hist}, nil
}
