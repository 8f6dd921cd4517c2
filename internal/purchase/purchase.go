// Package purchase проводит покупку товара: списание у покупателя,
// зачисление продавцу, запись в журнал и снятие товара с продажи.
//
// Два режима. С TxRunner все шаги выполняются в одной транзакции хранилища
// под блокировками строк. Без него шаги выполняются по очереди, балансы
// меняются условной записью (compare-and-swap), а при ошибке зачисления
// продавцу списание у покупателя компенсируется.
package purchase

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/notify"
)

const instrumentationName = "github.com/iurnickita/ifgmart/internal/purchase"

// DefaultRetries - число повторов условной записи баланса при конфликте
const DefaultRetries = 3

// Identity возвращает текущего пользователя. nil - пользователь не аутентифицирован
type Identity interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

type IdentityFunc func(ctx context.Context) (*model.User, error)

func (f IdentityFunc) CurrentUser(ctx context.Context) (*model.User, error) {
	return f(ctx)
}

type Orchestrator struct {
	identity  Identity
	repos     Repos
	tx        TxRunner
	notifier  notify.Notifier
	zaplog    *zap.Logger
	tracer    trace.Tracer
	purchases metric.Int64Counter
	retries   int
}

type Option func(*Orchestrator)

// WithTx включает атомарный режим
func WithTx(runner TxRunner) Option {
	return func(o *Orchestrator) {
		o.tx = runner
	}
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = notifier
	}
}

func WithLogger(zaplog *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.zaplog = zaplog
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(o *Orchestrator) {
		counter, err := meter.Int64Counter("ifgmart.purchases",
			metric.WithDescription("Purchase attempts by outcome"))
		if err == nil {
			o.purchases = counter
		}
	}
}

func WithRetries(retries int) Option {
	return func(o *Orchestrator) {
		if retries > 0 {
			o.retries = retries
		}
	}
}

func NewOrchestrator(identity Identity, repos Repos, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		identity:  identity,
		repos:     repos,
		notifier:  notify.Nop{},
		zaplog:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		purchases: noop.Int64Counter{},
		retries:   DefaultRetries,
	}
	WithMeter(otel.Meter(instrumentationName))(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Atomic сообщает, выполняется ли покупка в одной транзакции
func (o *Orchestrator) Atomic() bool {
	return o.tx != nil
}

// Purchase покупает товар productID от имени текущего пользователя.
// Возвращает запись журнала или *Error.
func (o *Orchestrator) Purchase(ctx context.Context, productID string) (model.Transaction, error) {
	ctx, span := o.tracer.Start(ctx, "purchase",
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.Bool("purchase.atomic", o.Atomic()),
		))
	defer span.End()

	user, err := o.identity.CurrentUser(ctx)
	if err != nil || user == nil || user.ID == "" {
		perr := precondition(model.ErrNotAuthenticated)
		if err != nil {
			perr.Err = err
		}
		o.finish(ctx, span, "", productID, model.Transaction{}, perr)
		return model.Transaction{}, perr
	}
	span.SetAttributes(attribute.String("buyer.id", user.ID))

	var transaction model.Transaction
	if o.tx != nil {
		err = o.tx.WithinTx(ctx, func(ctx context.Context, repos Repos) error {
			var err error
			transaction, err = o.run(ctx, repos, user.ID, productID)
			return err
		})
		var perr *Error
		if err != nil && !errors.As(err, &perr) {
			err = &Error{Kind: model.ErrStore, Step: StepCommit, Err: err}
		}
	} else {
		transaction, err = o.run(ctx, o.repos, user.ID, productID)
	}

	o.finish(ctx, span, user.ID, productID, transaction, err)
	if err != nil {
		return model.Transaction{}, err
	}
	return transaction, nil
}

// check проверяет условия покупки. Ничего не меняет
func (o *Orchestrator) check(ctx context.Context, repos Repos, buyer string, productID string) (model.Product, error) {
	ctx, span := o.tracer.Start(ctx, "purchase.precondition")
	defer span.End()

	p, err := repos.Products.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Product{}, precondition(model.ErrProductUnavailable)
		}
		return model.Product{}, &Error{Kind: model.ErrStore, Step: StepPrecondition, Err: err}
	}
	if p.Data.Status != model.ProductStatusActive {
		return model.Product{}, precondition(model.ErrProductUnavailable)
	}
	if p.Data.Owner == buyer {
		return model.Product{}, precondition(model.ErrSelfPurchase)
	}

	if o.tx != nil {
		if err = lockBalances(ctx, repos, buyer, p.Data.Owner); err != nil {
			return model.Product{}, &Error{Kind: model.ErrStore, Step: StepPrecondition, Err: err}
		}
	}

	current, err := repos.Balances.Get(ctx, buyer)
	if err != nil {
		return model.Product{}, &Error{Kind: model.ErrStore, Step: StepPrecondition, Err: err}
	}
	if current.Balance < p.Data.Price {
		return model.Product{}, precondition(model.ErrInsufficientFunds)
	}
	return p, nil
}

// lockBalances создает и блокирует записи балансов в порядке id пользователя.
// Встречные покупки берут блокировки в одном порядке
func lockBalances(ctx context.Context, repos Repos, customers ...string) error {
	slices.Sort(customers)
	for _, customer := range customers {
		if _, err := repos.Balances.GetOrCreate(ctx, customer); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, repos Repos, buyer string, productID string) (model.Transaction, error) {
	var (
		p           model.Product
		buyerBefore model.Balance
		err         error
	)

	// Условия и чтение баланса покупателя повторяются, если его баланс
	// изменился между чтением и списанием. До списания ничего не записано.
	for attempt := 1; ; attempt++ {
		p, err = o.check(ctx, repos, buyer, productID)
		if err != nil {
			return model.Transaction{}, err
		}

		// после проверок клиент уже не может прервать покупку
		ctx = context.WithoutCancel(ctx)

		buyerBefore, err = o.readBalance(ctx, repos, StepReadBuyer, buyer)
		if err != nil {
			return model.Transaction{}, err
		}
		if buyerBefore.Balance < p.Data.Price {
			return model.Transaction{}, precondition(model.ErrInsufficientFunds)
		}

		err = o.step(ctx, StepDebitBuyer, func(ctx context.Context) error {
			return repos.Balances.CompareAndSet(ctx, buyer, buyerBefore.Balance, buyerBefore.Balance-p.Data.Price)
		})
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrConflict) && o.tx == nil && attempt < o.retries {
			o.zaplog.Debug("buyer balance changed, retrying",
				zap.String("buyer", buyer), zap.Int("attempt", attempt))
			continue
		}
		return model.Transaction{}, o.mutationErr(StepDebitBuyer, nil, err)
	}
	debited := []Step{StepDebitBuyer}

	if err = o.credit(ctx, repos, p.Data.Owner, p.Data.Price); err != nil {
		if o.tx != nil {
			return model.Transaction{}, o.mutationErr(StepCreditSeller, nil, err)
		}
		compErr := o.compensate(ctx, repos, buyer, buyerBefore.Balance, p.Data.Price)
		if compErr != nil {
			return model.Transaction{}, &Error{
				Kind:      model.ErrPartialFailure,
				Step:      StepCreditSeller,
				Committed: debited,
				Err:       errors.Join(err, compErr),
			}
		}
		return model.Transaction{}, &Error{Kind: model.ErrStore, Step: StepCreditSeller, Err: err}
	}
	moved := []Step{StepDebitBuyer, StepCreditSeller}

	var transaction model.Transaction
	err = o.step(ctx, StepRecord, func(ctx context.Context) error {
		var err error
		transaction, err = repos.Ledger.Record(ctx, model.Transaction{Data: model.TransactionData{
			Buyer:   buyer,
			Seller:  p.Data.Owner,
			Product: p.ID,
			Amount:  p.Data.Price,
			Status:  model.TransactionStatusCompleted,
		}})
		return err
	})
	if err != nil {
		return model.Transaction{}, o.mutationErr(StepRecord, moved, err)
	}

	err = o.step(ctx, StepMarkSold, func(ctx context.Context) error {
		return repos.Products.MarkSold(ctx, p.ID)
	})
	if err != nil {
		if o.tx != nil && errors.Is(err, model.ErrProductUnavailable) {
			return model.Transaction{}, &Error{Kind: model.ErrProductUnavailable, Step: StepMarkSold, Err: err}
		}
		perr := o.mutationErr(StepMarkSold, append(moved, StepRecord), err)
		if perr.Applied() {
			perr.Transaction = &transaction
		}
		return model.Transaction{}, perr
	}
	return transaction, nil
}

// credit зачисляет продавцу amount. Запись создается со стартовым балансом
func (o *Orchestrator) credit(ctx context.Context, repos Repos, seller string, amount int) error {
	var err error
	for attempt := 1; attempt <= o.retries; attempt++ {
		var sellerBefore model.Balance
		sellerBefore, err = o.readBalance(ctx, repos, StepReadSeller, seller)
		if err != nil {
			return err
		}
		err = o.step(ctx, StepCreditSeller, func(ctx context.Context) error {
			return repos.Balances.CompareAndSet(ctx, seller, sellerBefore.Balance, sellerBefore.Balance+amount)
		})
		if !errors.Is(err, model.ErrConflict) || o.tx != nil {
			return err
		}
	}
	return err
}

// compensate возвращает покупателю списанное. Сначала пытается восстановить
// исходный баланс, при конкурентном изменении добавляет amount к текущему
func (o *Orchestrator) compensate(ctx context.Context, repos Repos, buyer string, before int, amount int) error {
	ctx, span := o.tracer.Start(ctx, "purchase.compensate_buyer")
	defer span.End()

	expected := before - amount
	var err error
	for attempt := 1; attempt <= o.retries; attempt++ {
		err = repos.Balances.CompareAndSet(ctx, buyer, expected, expected+amount)
		if err == nil {
			o.zaplog.Info("buyer debit compensated", zap.String("buyer", buyer), zap.Int("amount", amount))
			return nil
		}
		if !errors.Is(err, model.ErrConflict) {
			break
		}
		var current model.Balance
		current, err = repos.Balances.GetOrCreate(ctx, buyer)
		if err != nil {
			break
		}
		expected = current.Balance
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "compensation failed")
	return err
}

func (o *Orchestrator) readBalance(ctx context.Context, repos Repos, step Step, customer string) (model.Balance, error) {
	var row model.Balance
	err := o.step(ctx, step, func(ctx context.Context) error {
		var err error
		row, err = repos.Balances.GetOrCreate(ctx, customer)
		return err
	})
	if err != nil {
		return model.Balance{}, &Error{Kind: model.ErrStore, Step: step, Err: err}
	}
	return row, nil
}

// mutationErr - ошибка шага после начала записи. В транзакции все откатывается
func (o *Orchestrator) mutationErr(step Step, committed []Step, err error) *Error {
	if o.tx != nil || len(committed) == 0 {
		kind := model.ErrStore
		if errors.Is(err, model.ErrConflict) {
			kind = model.ErrConflict
		}
		return &Error{Kind: kind, Step: step, Err: err}
	}
	return &Error{
		Kind:      model.ErrPartialFailure,
		Step:      step,
		Committed: append([]Step(nil), committed...),
		Err:       err,
	}
}

func (o *Orchestrator) step(ctx context.Context, step Step, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "purchase."+string(step))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, buyer string, productID string, transaction model.Transaction, err error) {
	outcome := Outcome(err)
	o.purchases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("atomic", o.Atomic()),
	))

	if err == nil {
		span.SetAttributes(attribute.String("receipt", transaction.Data.Receipt))
		o.zaplog.Info("purchase completed",
			zap.String("buyer", buyer),
			zap.String("product", productID),
			zap.String("receipt", transaction.Data.Receipt),
			zap.Int("amount", transaction.Data.Amount))
		o.notifier.Publish(ctx, model.Event{
			Type:      model.EventTransactionCompleted,
			Timestamp: time.Now().UTC(),
			Customer:  buyer,
			Product:   productID,
			Receipt:   transaction.Data.Receipt,
			Amount:    transaction.Data.Amount,
		})
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)

	var perr *Error
	if errors.As(err, &perr) && perr.Applied() {
		// требуется ручная сверка
		fields := []zap.Field{
			zap.String("buyer", buyer),
			zap.String("product", productID),
			zap.String("step", string(perr.Step)),
			zap.Any("committed", perr.Committed),
			zap.Error(err),
		}
		event := model.Event{
			Type:      model.EventPurchasePartial,
			Timestamp: time.Now().UTC(),
			Customer:  buyer,
			Product:   productID,
			Detail:    err.Error(),
		}
		if perr.Transaction != nil {
			fields = append(fields, zap.String("receipt", perr.Transaction.Data.Receipt))
			event.Receipt = perr.Transaction.Data.Receipt
			event.Amount = perr.Transaction.Data.Amount
		}
		o.zaplog.Error("purchase partially applied", fields...)
		o.notifier.Publish(context.WithoutCancel(ctx), event)
		return
	}

	if errors.As(err, &perr) && perr.Step == StepPrecondition {
		o.zaplog.Info("purchase rejected",
			zap.String("buyer", buyer), zap.String("product", productID), zap.String("reason", outcome))
		return
	}
	o.zaplog.Warn("purchase failed",
		zap.String("buyer", buyer), zap.String("product", productID), zap.Error(err))
}
