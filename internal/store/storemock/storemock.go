// Package storemock содержит mock хранилища для тестов сервисов.
package storemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Store struct {
	mock.Mock
}

var _ store.Store = (*Store)(nil)

func (m *Store) ProfileGet(ctx context.Context, customer string) (model.Profile, error) {
	args := m.Called(ctx, customer)
	return args.Get(0).(model.Profile), args.Error(1)
}

func (m *Store) ProfilePut(ctx context.Context, customer string, fullName string) (model.Profile, error) {
	args := m.Called(ctx, customer, fullName)
	return args.Get(0).(model.Profile), args.Error(1)
}

func (m *Store) BalanceGet(ctx context.Context, customer string) (model.Balance, error) {
	args := m.Called(ctx, customer)
	return args.Get(0).(model.Balance), args.Error(1)
}

func (m *Store) BalancePost(ctx context.Context, customer string, balance int) (model.Balance, error) {
	args := m.Called(ctx, customer, balance)
	return args.Get(0).(model.Balance), args.Error(1)
}

func (m *Store) BalancePut(ctx context.Context, customer string, balance int) (model.Balance, error) {
	args := m.Called(ctx, customer, balance)
	return args.Get(0).(model.Balance), args.Error(1)
}

func (m *Store) BalanceSwap(ctx context.Context, customer string, expected int, balance int) error {
	args := m.Called(ctx, customer, expected, balance)
	return args.Error(0)
}

func (m *Store) ProductGet(ctx context.Context, id string) (model.Product, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Product), args.Error(1)
}

func (m *Store) ProductList(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	args := m.Called(ctx, filter)
	products, _ := args.Get(0).([]model.Product)
	return products, args.Error(1)
}

func (m *Store) ProductListByOwner(ctx context.Context, owner string) ([]model.Product, error) {
	args := m.Called(ctx, owner)
	products, _ := args.Get(0).([]model.Product)
	return products, args.Error(1)
}

func (m *Store) ProductPost(ctx context.Context, product model.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *Store) ProductPut(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error) {
	args := m.Called(ctx, owner, id, fields)
	return args.Get(0).(model.Product), args.Error(1)
}

func (m *Store) ProductDelete(ctx context.Context, owner string, id string) error {
	args := m.Called(ctx, owner, id)
	return args.Error(0)
}

func (m *Store) ProductSwapStatus(ctx context.Context, id string, from string, to string) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *Store) TransactionNextReceipt(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Store) TransactionPost(ctx context.Context, transaction model.Transaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *Store) TransactionList(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	args := m.Called(ctx, filter)
	transactions, _ := args.Get(0).([]model.Transaction)
	return transactions, args.Error(1)
}

func (m *Store) TransactionGetByReceipt(ctx context.Context, receipt string) (model.Transaction, error) {
	args := m.Called(ctx, receipt)
	return args.Get(0).(model.Transaction), args.Error(1)
}

// WithinTx выполняет fn на самом mock без транзакции
func (m *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *Store) Close() error {
	return nil
}
