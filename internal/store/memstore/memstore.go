// Package memstore хранит данные маркетплейса в памяти процесса.
// Используется в тестах и при запуске без DATABASE_URI.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

type data struct {
	profiles     map[string]string
	balances     map[string]model.Balance
	products     map[string]model.Product
	transactions map[string]model.Transaction
	receiptSeq   int64
}

func (d *data) clone() *data {
	cp := &data{
		profiles:     make(map[string]string, len(d.profiles)),
		balances:     make(map[string]model.Balance, len(d.balances)),
		products:     make(map[string]model.Product, len(d.products)),
		transactions: make(map[string]model.Transaction, len(d.transactions)),
		receiptSeq:   d.receiptSeq,
	}
	for k, v := range d.profiles {
		cp.profiles[k] = v
	}
	for k, v := range d.balances {
		cp.balances[k] = v
	}
	for k, v := range d.products {
		cp.products[k] = v
	}
	for k, v := range d.transactions {
		cp.transactions[k] = v
	}
	return cp
}

type MemStore struct {
	// txMu держит открытая транзакция. Изменения вне транзакции ждут ее завершения
	txMu sync.Mutex
	mu   sync.Mutex
	d    *data
}

func New() *MemStore {
	return &MemStore{d: &data{
		profiles:     make(map[string]string),
		balances:     make(map[string]model.Balance),
		products:     make(map[string]model.Product),
		transactions: make(map[string]model.Transaction),
		receiptSeq:   99999,
	}}
}

func (m *MemStore) Close() error {
	return nil
}

// lockWrite берет блокировки для изменения данных
func (m *MemStore) lockWrite() (unlock func()) {
	m.txMu.Lock()
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.txMu.Unlock()
	}
}

// WithinTx выполняет fn над копией данных. При успехе копия заменяет данные,
// при ошибке отбрасывается. Чтение вне транзакции видит данные до фиксации.
func (m *MemStore) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	tx := &MemStore{d: m.d.clone()}
	m.mu.Unlock()

	if err := fn(txStore{tx}); err != nil {
		return err
	}

	m.mu.Lock()
	m.d = tx.d
	m.mu.Unlock()
	return nil
}

// txStore - хранилище внутри транзакции, вложенные транзакции не открываются
type txStore struct {
	*MemStore
}

func (tx txStore) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(tx)
}

func (m *MemStore) ProfileGet(_ context.Context, customer string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fullName, ok := m.d.profiles[customer]
	if !ok {
		return model.Profile{}, store.ErrNoRows
	}
	return model.Profile{Customer: customer, FullName: fullName}, nil
}

func (m *MemStore) ProfilePut(_ context.Context, customer string, fullName string) (model.Profile, error) {
	defer m.lockWrite()()
	m.d.profiles[customer] = fullName
	return model.Profile{Customer: customer, FullName: fullName}, nil
}

func (m *MemStore) BalanceGet(_ context.Context, customer string) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.d.balances[customer]
	if !ok {
		return model.Balance{}, store.ErrNoRows
	}
	return balance, nil
}

func (m *MemStore) BalancePost(_ context.Context, customer string, balance int) (model.Balance, error) {
	defer m.lockWrite()()
	if current, ok := m.d.balances[customer]; ok {
		return current, nil
	}
	row := model.Balance{Customer: customer, Balance: balance, UpdatedAt: time.Now().UTC()}
	m.d.balances[customer] = row
	return row, nil
}

func (m *MemStore) BalancePut(_ context.Context, customer string, balance int) (model.Balance, error) {
	defer m.lockWrite()()
	row := model.Balance{Customer: customer, Balance: balance, UpdatedAt: time.Now().UTC()}
	m.d.balances[customer] = row
	return row, nil
}

func (m *MemStore) BalanceSwap(_ context.Context, customer string, expected int, balance int) error {
	defer m.lockWrite()()
	current, ok := m.d.balances[customer]
	if !ok {
		return store.ErrNoRows
	}
	if current.Balance != expected {
		return store.ErrConflict
	}
	m.d.balances[customer] = model.Balance{Customer: customer, Balance: balance, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemStore) withOwnerName(product model.Product) model.Product {
	product.Data.OwnerName = m.d.profiles[product.Data.Owner]
	return product
}

func (m *MemStore) ProductGet(_ context.Context, id string) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.d.products[id]
	if !ok {
		return model.Product{}, store.ErrNoRows
	}
	return m.withOwnerName(product), nil
}

func sortNewestFirst(products []model.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Data.CreatedAt.After(products[j].Data.CreatedAt)
	})
}

func (m *MemStore) ProductList(_ context.Context, filter model.ProductFilter) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(filter.Search)
	var products []model.Product
	for _, product := range m.d.products {
		if filter.Status != "" && product.Data.Status != filter.Status {
			continue
		}
		if filter.Category != "" && product.Data.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(product.Data.Title), search) &&
			!strings.Contains(strings.ToLower(product.Data.Description), search) {
			continue
		}
		products = append(products, m.withOwnerName(product))
	}
	sortNewestFirst(products)
	return products, nil
}

func (m *MemStore) ProductListByOwner(_ context.Context, owner string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var products []model.Product
	for _, product := range m.d.products {
		if product.Data.Owner == owner {
			products = append(products, m.withOwnerName(product))
		}
	}
	sortNewestFirst(products)
	return products, nil
}

func (m *MemStore) ProductPost(_ context.Context, product model.Product) error {
	defer m.lockWrite()()
	if _, ok := m.d.products[product.ID]; ok {
		return store.ErrAlreadyExists
	}
	product.Data.OwnerName = ""
	m.d.products[product.ID] = product
	return nil
}

func (m *MemStore) ownedProduct(owner string, id string) (model.Product, error) {
	product, ok := m.d.products[id]
	if !ok {
		return model.Product{}, store.ErrNoRows
	}
	if product.Data.Owner != owner {
		return model.Product{}, store.ErrForbidden
	}
	return product, nil
}

func (m *MemStore) ProductPut(_ context.Context, owner string, id string, fields model.ProductFields) (model.Product, error) {
	defer m.lockWrite()()
	product, err := m.ownedProduct(owner, id)
	if err != nil {
		return model.Product{}, err
	}
	if fields.Status != nil && product.Data.Status == model.ProductStatusSold {
		return model.Product{}, store.ErrConflict
	}
	if fields.Title != nil {
		product.Data.Title = *fields.Title
	}
	if fields.Description != nil {
		product.Data.Description = *fields.Description
	}
	if fields.Price != nil {
		product.Data.Price = *fields.Price
	}
	if fields.Category != nil {
		product.Data.Category = *fields.Category
	}
	if fields.ImageURL != nil {
		product.Data.ImageURL = *fields.ImageURL
	}
	if fields.ProductLink != nil {
		product.Data.ProductLink = *fields.ProductLink
	}
	if fields.Status != nil {
		product.Data.Status = *fields.Status
	}
	product.Data.UpdatedAt = time.Now().UTC()
	m.d.products[id] = product
	return m.withOwnerName(product), nil
}

func (m *MemStore) ProductDelete(_ context.Context, owner string, id string) error {
	defer m.lockWrite()()
	if _, err := m.ownedProduct(owner, id); err != nil {
		return err
	}
	delete(m.d.products, id)
	return nil
}

func (m *MemStore) ProductSwapStatus(_ context.Context, id string, from string, to string) error {
	defer m.lockWrite()()
	product, ok := m.d.products[id]
	if !ok {
		return store.ErrNoRows
	}
	if product.Data.Status != from {
		return store.ErrConflict
	}
	product.Data.Status = to
	product.Data.UpdatedAt = time.Now().UTC()
	m.d.products[id] = product
	return nil
}

func (m *MemStore) TransactionNextReceipt(_ context.Context) (int64, error) {
	defer m.lockWrite()()
	m.d.receiptSeq++
	return m.d.receiptSeq, nil
}

func (m *MemStore) TransactionPost(_ context.Context, transaction model.Transaction) error {
	defer m.lockWrite()()
	if _, ok := m.d.transactions[transaction.ID]; ok {
		return store.ErrAlreadyExists
	}
	for _, existing := range m.d.transactions {
		if existing.Data.Receipt == transaction.Data.Receipt {
			return store.ErrAlreadyExists
		}
	}
	m.d.transactions[transaction.ID] = transaction
	return nil
}

func (m *MemStore) TransactionList(_ context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var transactions []model.Transaction
	for _, transaction := range m.d.transactions {
		if filter.Customer != "" &&
			transaction.Data.Buyer != filter.Customer &&
			transaction.Data.Seller != filter.Customer {
			continue
		}
		if filter.Status != "" && transaction.Data.Status != filter.Status {
			continue
		}
		transactions = append(transactions, transaction)
	}
	// новые сверху, при равном времени - по номеру чека
	sort.SliceStable(transactions, func(i, j int) bool {
		ti, tj := transactions[i].Data, transactions[j].Data
		if !ti.CreatedAt.Equal(tj.CreatedAt) {
			return ti.CreatedAt.After(tj.CreatedAt)
		}
		ri, _ := strconv.ParseInt(ti.Receipt, 10, 64)
		rj, _ := strconv.ParseInt(tj.Receipt, 10, 64)
		return ri > rj
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(transactions) > limit {
		transactions = transactions[:limit]
	}
	return transactions, nil
}

func (m *MemStore) TransactionGetByReceipt(_ context.Context, receipt string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, transaction := range m.d.transactions {
		if transaction.Data.Receipt == receipt {
			return transaction, nil
		}
	}
	return model.Transaction{}, store.ErrNoRows
}

var _ store.Store = (*MemStore)(nil)
