package purchase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iurnickita/ifgmart/internal/model"
)

// Step - шаг покупки
type Step string

const (
	StepPrecondition Step = "precondition"
	StepReadBuyer    Step = "read_buyer"
	StepReadSeller   Step = "read_seller"
	StepDebitBuyer   Step = "debit_buyer"
	StepCreditSeller Step = "credit_seller"
	StepRecord       Step = "record_transaction"
	StepMarkSold     Step = "mark_sold"
	StepCommit       Step = "commit"
)

// Error описывает неудачную покупку: вид ошибки (model.Err*), шаг,
// на котором она произошла, и уже примененные шаги.
type Error struct {
	Kind      error
	Step      Step
	Committed []Step
	// Transaction заполнена, если запись в журнале успела появиться
	Transaction *model.Transaction
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "purchase: %s at %s", e.Kind, e.Step)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	if len(e.Committed) > 0 {
		steps := make([]string, len(e.Committed))
		for i, step := range e.Committed {
			steps[i] = string(step)
		}
		fmt.Fprintf(&b, " (already applied: %s)", strings.Join(steps, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Applied сообщает, остались ли после ошибки примененные изменения
func (e *Error) Applied() bool {
	return len(e.Committed) > 0
}

func precondition(kind error) *Error {
	return &Error{Kind: kind, Step: StepPrecondition}
}

// Outcome - короткое имя результата для метрик и логов
func Outcome(err error) string {
	kinds := []struct {
		err  error
		name string
	}{
		{model.ErrPartialFailure, "partial_failure"},
		{model.ErrNotAuthenticated, "not_authenticated"},
		{model.ErrProductUnavailable, "product_unavailable"},
		{model.ErrSelfPurchase, "self_purchase"},
		{model.ErrInsufficientFunds, "insufficient_funds"},
		{model.ErrConflict, "conflict"},
		{model.ErrStore, "store_error"},
	}
	if err == nil {
		return "completed"
	}
	var purchaseErr *Error
	if errors.As(err, &purchaseErr) {
		err = purchaseErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return "error"
}
