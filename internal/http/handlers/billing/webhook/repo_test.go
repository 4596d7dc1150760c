package webhook

import (
	"context"

	"github.com/regexgpt/regexgpt/internal/models"
	"github.com/regexgpt/regexgpt/internal/storage"
)

// countingRepo считает обращения синхронизатора к хранилищу.
type countingRepo struct {
	calls int
}

func (r *countingRepo) ApplyCheckout(context.Context, storage.CheckoutUpdate) (bool, error) {
	r.calls++
	return true, nil
}

func (r *countingRepo) SetPlanByCustomer(context.Context, storage.PlanUpdate) ([]string, error) {
	r.calls++
	return []string{"U123"}, nil
}

func (r *countingRepo) GetProfile(context.Context, string) (*models.Profile, error) {
	r.calls++
	return nil, storage.ErrProfileNotFound
}

func (r *countingRepo) GetProfileByCustomer(context.Context, string) (*models.Profile, error) {
	r.calls++
	return nil, storage.ErrProfileNotFound
}
