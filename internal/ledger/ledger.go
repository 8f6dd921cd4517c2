// Package ledger ведет журнал сделок маркетплейса.
// Записи только добавляются: обновления и удаления не предусмотрены.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/theplant/luhn"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Ledger interface {
	Record(ctx context.Context, transaction model.Transaction) (model.Transaction, error)
	List(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	GetByReceipt(ctx context.Context, receipt string) (model.Transaction, error)
}

type ledger struct {
	store store.Store
}

func NewLedger(store store.Store) Ledger {
	return &ledger{store: store}
}

// ReceiptNumber дополняет порядковый номер контрольной цифрой Луна
func ReceiptNumber(seq int64) string {
	return strconv.FormatInt(seq*10+int64(luhn.CalculateLuhn(int(seq))), 10)
}

// ValidReceipt проверяет номер чека по алгоритму Луна
func ValidReceipt(receipt string) bool {
	number, err := strconv.Atoi(receipt)
	if err != nil || number <= 0 {
		return false
	}
	return luhn.Valid(number)
}

func (l *ledger) Record(ctx context.Context, transaction model.Transaction) (model.Transaction, error) {
	data := transaction.Data
	if data.Buyer == "" || data.Seller == "" || data.Product == "" {
		return model.Transaction{}, fmt.Errorf("%w: buyer, seller and product are required", model.ErrValidation)
	}
	if data.Amount <= 0 {
		return model.Transaction{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}
	switch data.Status {
	case model.TransactionStatusPending, model.TransactionStatusCompleted, model.TransactionStatusFailed:
	default:
		return model.Transaction{}, fmt.Errorf("%w: unknown status %q", model.ErrValidation, data.Status)
	}

	seq, err := l.store.TransactionNextReceipt(ctx)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}

	var newTransaction model.Transaction
	newTransaction.ID = uuid.NewString()
	newTransaction.Data = data
	newTransaction.Data.Receipt = ReceiptNumber(seq)
	newTransaction.Data.CreatedAt = time.Now().UTC()

	err = l.store.TransactionPost(ctx, newTransaction)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return newTransaction, nil
}

func (l *ledger) List(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	if filter.Limit < 0 || filter.Limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be between 0 and 1000", model.ErrValidation)
	}
	transactions, err := l.store.TransactionList(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return transactions, nil
}

func (l *ledger) GetByReceipt(ctx context.Context, receipt string) (model.Transaction, error) {
	if !ValidReceipt(receipt) {
		return model.Transaction{}, fmt.Errorf("%w: receipt number %q is invalid", model.ErrValidation, receipt)
	}
	transaction, err := l.store.TransactionGetByReceipt(ctx, receipt)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Transaction{}, model.ErrNotFound
		}
		return model.Transaction{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return transaction, nil
}
