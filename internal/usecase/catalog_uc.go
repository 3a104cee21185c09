package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
)

// CatalogUseCase lists and creates priced plans. Rows are never edited;
// a price change is a new row.
type CatalogUseCase struct {
	repo repository.CatalogRepository
	log  *zerolog.Logger
}

func NewCatalogUseCase(repo repository.CatalogRepository, logger *zerolog.Logger) *CatalogUseCase {
	l := logger.With().Str("component", "CatalogUC").Logger()
	return &CatalogUseCase{repo: repo, log: &l}
}

type Catalog struct {
	AccountCharges []*model.AccountCharge
	Services       []*model.Service
}

func (uc *CatalogUseCase) List(ctx context.Context) (*Catalog, error) {
	acs, err := uc.repo.ListAccountCharges(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	svcs, err := uc.repo.ListServices(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return &Catalog{AccountCharges: acs, Services: svcs}, nil
}

func (uc *CatalogUseCase) CreateAccountCharge(ctx context.Context, a *model.AccountCharge) error {
	if strings.TrimSpace(a.Period) == "" || !a.Amount.IsPositive() || a.DurationDays <= 0 {
		return fmt.Errorf("%w: account charge needs period, amount and duration", domain.ErrInvalidArgument)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return uc.repo.SaveAccountCharge(ctx, repository.NoTX, a)
}

func (uc *CatalogUseCase) CreateService(ctx context.Context, s *model.Service) error {
	if strings.TrimSpace(s.Name) == "" || !s.Price.IsPositive() {
		return fmt.Errorf("%w: service needs name and price", domain.ErrInvalidArgument)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return uc.repo.SaveService(ctx, repository.NoTX, s)
}
