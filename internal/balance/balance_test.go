package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
	"github.com/iurnickita/ifgmart/internal/store/storemock"
)

func TestGet(t *testing.T) {
	ctx := context.Background()
	st := &storemock.Store{}
	balance := NewBalance(st, 500)

	st.On("BalanceGet", mock.Anything, "fresh").Return(model.Balance{}, store.ErrNoRows)
	st.On("BalanceGet", mock.Anything, "known").
		Return(model.Balance{Customer: "known", Balance: 40, UpdatedAt: time.Now()}, nil)
	st.On("BalanceGet", mock.Anything, "broken").Return(model.Balance{}, errors.New("connection reset"))

	// без записи - стартовый баланс, запись не создается
	row, err := balance.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 500, row.Balance)
	assert.True(t, row.UpdatedAt.IsZero())

	row, err = balance.Get(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, 40, row.Balance)

	_, err = balance.Get(ctx, "broken")
	assert.ErrorIs(t, err, model.ErrStore)

	_, err = balance.Get(ctx, "")
	assert.ErrorIs(t, err, model.ErrNotAuthenticated)

	st.AssertExpectations(t)
	st.AssertNotCalled(t, "BalancePost", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewBalanceDefaultGrant(t *testing.T) {
	st := &storemock.Store{}
	st.On("BalancePost", mock.Anything, "seller", model.DefaultStartingGrant).
		Return(model.Balance{Customer: "seller", Balance: model.DefaultStartingGrant}, nil)

	row, err := NewBalance(st, -1).GetOrCreate(context.Background(), "seller")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultStartingGrant, row.Balance)
	st.AssertExpectations(t)
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	st := &storemock.Store{}
	balance := NewBalance(st, model.DefaultStartingGrant)

	st.On("BalancePut", mock.Anything, "user", 250).Return(model.Balance{Customer: "user", Balance: 250}, nil)

	row, err := balance.Set(ctx, "user", 250)
	require.NoError(t, err)
	assert.Equal(t, 250, row.Balance)

	_, err = balance.Set(ctx, "user", -1)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = balance.Set(ctx, "", 1)
	assert.ErrorIs(t, err, model.ErrValidation)

	st.AssertNumberOfCalls(t, "BalancePut", 1)
}

func TestCompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := &storemock.Store{}
	balance := NewBalance(st, model.DefaultStartingGrant)

	st.On("BalanceSwap", mock.Anything, "buyer", 100, 40).Return(nil)
	st.On("BalanceSwap", mock.Anything, "buyer", 90, 30).Return(store.ErrConflict)
	st.On("BalanceSwap", mock.Anything, "ghost", 0, 10).Return(store.ErrNoRows)

	require.NoError(t, balance.CompareAndSet(ctx, "buyer", 100, 40))
	assert.ErrorIs(t, balance.CompareAndSet(ctx, "buyer", 90, 30), model.ErrConflict)
	assert.ErrorIs(t, balance.CompareAndSet(ctx, "ghost", 0, 10), model.ErrNotFound)
	// отрицательный баланс не записывается
	assert.ErrorIs(t, balance.CompareAndSet(ctx, "buyer", 40, -20), model.ErrInsufficientFunds)

	st.AssertNumberOfCalls(t, "BalanceSwap", 3)
}
