package purchase

import (
	"context"

	"github.com/iurnickita/ifgmart/internal/balance"
	"github.com/iurnickita/ifgmart/internal/ledger"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/product"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Balances interface {
	Get(ctx context.Context, customer string) (model.Balance, error)
	GetOrCreate(ctx context.Context, customer string) (model.Balance, error)
	CompareAndSet(ctx context.Context, customer string, expected int, points int) error
}

type Products interface {
	Get(ctx context.Context, id string) (model.Product, error)
	MarkSold(ctx context.Context, id string) error
}

type Ledger interface {
	Record(ctx context.Context, transaction model.Transaction) (model.Transaction, error)
}

type Repos struct {
	Balances Balances
	Products Products
	Ledger   Ledger
}

// TxRunner выполняет fn в одной транзакции хранилища
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

func NewStoreRepos(st store.Store, grant int) Repos {
	return Repos{
		Balances: balance.NewBalance(st, grant),
		Products: product.NewProduct(st),
		Ledger:   ledger.NewLedger(st),
	}
}

type storeTxRunner struct {
	store store.Store
	grant int
}

// NewStoreTxRunner строит репозитории поверх транзакции хранилища
func NewStoreTxRunner(st store.Store, grant int) TxRunner {
	return &storeTxRunner{store: st, grant: grant}
}

func (r *storeTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	return r.store.WithinTx(ctx, func(tx store.Store) error {
		return fn(ctx, NewStoreRepos(tx, r.grant))
	})
}
