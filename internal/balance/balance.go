package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Balance interface {
	Get(ctx context.Context, customer string) (model.Balance, error)
	GetOrCreate(ctx context.Context, customer string) (model.Balance, error)
	Set(ctx context.Context, customer string, points int) (model.Balance, error)
	CompareAndSet(ctx context.Context, customer string, expected int, points int) error
}

type balance struct {
	store store.Store
	grant int
}

func NewBalance(store store.Store, grant int) Balance {
	if grant < 0 {
		grant = model.DefaultStartingGrant
	}
	balance := balance{store: store, grant: grant}
	return &balance
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return model.ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return model.ErrConflict
	default:
		return fmt.Errorf("%w: %w", model.ErrStore, err)
	}
}

// Get возвращает баланс. Пока записи нет - стартовый баланс, без сохранения
func (balance *balance) Get(ctx context.Context, customer string) (model.Balance, error) {
	if customer == "" {
		return model.Balance{}, model.ErrNotAuthenticated
	}

	row, err := balance.store.BalanceGet(ctx, customer)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Balance{Customer: customer, Balance: balance.grant, UpdatedAt: time.Time{}}, nil
		}
		return model.Balance{}, storeErr(err)
	}
	return row, nil
}

// GetOrCreate возвращает баланс, создавая запись со стартовым балансом
func (balance *balance) GetOrCreate(ctx context.Context, customer string) (model.Balance, error) {
	if customer == "" {
		return model.Balance{}, model.ErrNotAuthenticated
	}

	row, err := balance.store.BalancePost(ctx, customer, balance.grant)
	if err != nil {
		return model.Balance{}, storeErr(err)
	}
	return row, nil
}

// Set безусловно перезаписывает баланс (администрирование)
func (balance *balance) Set(ctx context.Context, customer string, points int) (model.Balance, error) {
	if customer == "" {
		return model.Balance{}, fmt.Errorf("%w: customer is required", model.ErrValidation)
	}
	if points < 0 {
		return model.Balance{}, fmt.Errorf("%w: balance must not be negative", model.ErrValidation)
	}

	row, err := balance.store.BalancePut(ctx, customer, points)
	if err != nil {
		return model.Balance{}, storeErr(err)
	}
	return row, nil
}

// CompareAndSet записывает points, только если текущий баланс равен expected
func (balance *balance) CompareAndSet(ctx context.Context, customer string, expected int, points int) error {
	if points < 0 {
		return model.ErrInsufficientFunds
	}

	err := balance.store.BalanceSwap(ctx, customer, expected, points)
	if err != nil {
		return storeErr(err)
	}
	return nil
}
