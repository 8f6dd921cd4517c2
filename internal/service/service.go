package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth"
	"github.com/iurnickita/ifgmart/internal/balance"
	"github.com/iurnickita/ifgmart/internal/ledger"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/notify"
	"github.com/iurnickita/ifgmart/internal/product"
	"github.com/iurnickita/ifgmart/internal/profile"
	"github.com/iurnickita/ifgmart/internal/purchase"
	"github.com/iurnickita/ifgmart/internal/service/config"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Service interface {
	// Витрина
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	Purchase(ctx context.Context, productID string) (model.Transaction, error)

	// Кабинет пользователя
	GetBalance(ctx context.Context, customer string) (model.Balance, error)
	GetMyProducts(ctx context.Context, owner string) ([]model.Product, error)
	PostProduct(ctx context.Context, owner string, fields model.ProductFields) (model.Product, error)
	PutProduct(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error)
	DeleteProduct(ctx context.Context, owner string, id string) error
	GetMyTransactions(ctx context.Context, customer string) ([]model.Transaction, error)
	GetProfile(ctx context.Context, customer string) (model.Profile, error)
	PutProfile(ctx context.Context, customer string, fullName string) (model.Profile, error)

	// Администрирование
	SetBalance(ctx context.Context, customer string, points int) (model.Balance, error)
	GetAllProducts(ctx context.Context, status string) ([]model.Product, error)
	GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	GetTransaction(ctx context.Context, receipt string) (model.Transaction, error)
	Events(ctx context.Context) (<-chan model.Event, error)
}

type service struct {
	cfg      config.Config
	balance  balance.Balance
	product  product.Product
	profile  profile.Profile
	ledger   ledger.Ledger
	purchase *purchase.Orchestrator
	notifier notify.Notifier
	zaplog   *zap.Logger
}

func NewService(cfg config.Config, store store.Store, notifier notify.Notifier, zaplog *zap.Logger, opts ...purchase.Option) (Service, error) {
	if cfg.StartingGrant < 0 {
		cfg.StartingGrant = model.DefaultStartingGrant
	}
	if cfg.PurchaseMode == "" {
		cfg.PurchaseMode = config.PurchaseModeAtomic
	}

	repos := purchase.NewStoreRepos(store, cfg.StartingGrant)
	purchaseOpts := []purchase.Option{
		purchase.WithNotifier(notifier),
		purchase.WithLogger(zaplog),
	}
	switch cfg.PurchaseMode {
	case config.PurchaseModeAtomic:
		purchaseOpts = append(purchaseOpts, purchase.WithTx(purchase.NewStoreTxRunner(store, cfg.StartingGrant)))
	case config.PurchaseModeSaga:
	default:
		return nil, fmt.Errorf("unknown purchase mode %q", cfg.PurchaseMode)
	}
	purchaseOpts = append(purchaseOpts, opts...)

	service := service{
		cfg:      cfg,
		balance:  balance.NewBalance(store, cfg.StartingGrant),
		product:  product.NewProduct(store),
		profile:  profile.NewProfile(store),
		ledger:   ledger.NewLedger(store),
		purchase: purchase.NewOrchestrator(purchase.IdentityFunc(auth.CurrentUser), repos, purchaseOpts...),
		notifier: notifier,
		zaplog:   zaplog,
	}
	return &service, nil
}

func (service *service) publish(ctx context.Context, event model.Event) {
	event.Timestamp = time.Now().UTC()
	service.notifier.Publish(context.WithoutCancel(ctx), event)
}

func (service *service) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	return service.product.ListActive(ctx, filter)
}

func (service *service) Purchase(ctx context.Context, productID string) (model.Transaction, error) {
	return service.purchase.Purchase(ctx, productID)
}

func (service *service) GetBalance(ctx context.Context, customer string) (model.Balance, error) {
	return service.balance.Get(ctx, customer)
}

func (service *service) GetMyProducts(ctx context.Context, owner string) ([]model.Product, error) {
	return service.product.ListOwnedBy(ctx, owner)
}

func (service *service) PostProduct(ctx context.Context, owner string, fields model.ProductFields) (model.Product, error) {
	newProduct, err := service.product.Create(ctx, owner, fields)
	if err != nil {
		return model.Product{}, err
	}
	service.zaplog.Info("product created", zap.String("product", newProduct.ID), zap.String("owner", owner))
	service.publish(ctx, model.Event{
		Type:     model.EventProductCreated,
		Customer: owner,
		Product:  newProduct.ID,
		Amount:   newProduct.Data.Price,
	})
	return newProduct, nil
}

func (service *service) PutProduct(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error) {
	updated, err := service.product.Update(ctx, owner, id, fields)
	if err != nil {
		return model.Product{}, err
	}
	service.publish(ctx, model.Event{
		Type:     model.EventProductUpdated,
		Customer: owner,
		Product:  id,
		Detail:   updated.Data.Status,
	})
	return updated, nil
}

func (service *service) DeleteProduct(ctx context.Context, owner string, id string) error {
	if err := service.product.Delete(ctx, owner, id); err != nil {
		return err
	}
	service.zaplog.Info("product deleted", zap.String("product", id), zap.String("owner", owner))
	service.publish(ctx, model.Event{
		Type:     model.EventProductDeleted,
		Customer: owner,
		Product:  id,
	})
	return nil
}

func (service *service) GetMyTransactions(ctx context.Context, customer string) ([]model.Transaction, error) {
	if customer == "" {
		return nil, model.ErrNotAuthenticated
	}
	return service.ledger.List(ctx, model.TransactionFilter{Customer: customer})
}

func (service *service) GetProfile(ctx context.Context, customer string) (model.Profile, error) {
	return service.profile.Get(ctx, customer)
}

func (service *service) PutProfile(ctx context.Context, customer string, fullName string) (model.Profile, error) {
	row, err := service.profile.Set(ctx, customer, fullName)
	if err != nil {
		return model.Profile{}, err
	}
	service.publish(ctx, model.Event{
		Type:     model.EventProfileUpdated,
		Customer: customer,
		Detail:   row.FullName,
	})
	return row, nil
}

func (service *service) SetBalance(ctx context.Context, customer string, points int) (model.Balance, error) {
	row, err := service.balance.Set(ctx, customer, points)
	if err != nil {
		return model.Balance{}, err
	}
	service.zaplog.Info("balance set", zap.String("customer", customer), zap.Int("balance", points))
	service.publish(ctx, model.Event{
		Type:     model.EventBalanceSet,
		Customer: customer,
		Amount:   points,
	})
	return row, nil
}

func (service *service) GetAllProducts(ctx context.Context, status string) ([]model.Product, error) {
	return service.product.ListAll(ctx, status)
}

func (service *service) GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	return service.ledger.List(ctx, filter)
}

func (service *service) GetTransaction(ctx context.Context, receipt string) (model.Transaction, error) {
	return service.ledger.GetByReceipt(ctx, receipt)
}

func (service *service) Events(ctx context.Context) (<-chan model.Event, error) {
	return service.notifier.Subscribe(ctx)
}
