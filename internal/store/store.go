package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store/config"
)

type Store interface {
	ProfileGet(ctx context.Context, customer string) (model.Profile, error)
	ProfilePut(ctx context.Context, customer string, fullName string) (model.Profile, error)
	BalanceGet(ctx context.Context, customer string) (model.Balance, error)
	BalancePost(ctx context.Context, customer string, balance int) (model.Balance, error)
	BalancePut(ctx context.Context, customer string, balance int) (model.Balance, error)
	BalanceSwap(ctx context.Context, customer string, expected int, balance int) error
	ProductGet(ctx context.Context, id string) (model.Product, error)
	ProductList(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	ProductListByOwner(ctx context.Context, owner string) ([]model.Product, error)
	ProductPost(ctx context.Context, product model.Product) error
	ProductPut(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error)
	ProductDelete(ctx context.Context, owner string, id string) error
	ProductSwapStatus(ctx context.Context, id string, from string, to string) error
	TransactionNextReceipt(ctx context.Context) (int64, error)
	TransactionPost(ctx context.Context, transaction model.Transaction) error
	TransactionList(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	TransactionGetByReceipt(ctx context.Context, receipt string) (model.Transaction, error)
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
)

// Общие методы *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type store struct {
	database *sql.DB
	q        querier
	// внутри транзакции строки читаются с блокировкой
	locking bool
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Профили пользователей (имя продавца для витрины)
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS profiles (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" full_name VARCHAR (200)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Баланс токенов. Одна строка на пользователя, создается при первом обращении
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS user_tokens (" +
			" user_id VARCHAR (36) PRIMARY KEY," +
			" balance INTEGER NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Товары
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS marketplace_products (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" user_id VARCHAR (36) NOT NULL," +
			" title VARCHAR (200) NOT NULL," +
			" description TEXT NOT NULL," +
			" price INTEGER NOT NULL CHECK (price > 0)," +
			" category VARCHAR (50) NOT NULL," +
			" image_url TEXT NOT NULL DEFAULT ''," +
			" product_link TEXT NOT NULL DEFAULT ''," +
			" status VARCHAR (10) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Журнал сделок. Только вставка, записи не редактируются
	_, err = db.Exec("CREATE SEQUENCE IF NOT EXISTS marketplace_receipt_seq START 100000;")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS marketplace_transactions (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" receipt VARCHAR (20) UNIQUE NOT NULL," +
			" buyer_id VARCHAR (36) NOT NULL," +
			" seller_id VARCHAR (36) NOT NULL," +
			" product_id VARCHAR (36) NOT NULL," +
			" amount INTEGER NOT NULL," +
			" status VARCHAR (10) NOT NULL," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database: db,
		q:        db,
	}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func (s *store) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	// уже внутри транзакции
	if s.locking {
		return fn(s)
	}

	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = fn(&store{database: s.database, q: tx, locking: true})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (store *store) ProfileGet(ctx context.Context, customer string) (model.Profile, error) {
	var profile model.Profile
	row := store.q.QueryRowContext(ctx,
		"SELECT id, COALESCE(full_name, '') FROM profiles WHERE id = $1",
		customer)
	err := row.Scan(&profile.Customer, &profile.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, ErrNoRows
		}
		return model.Profile{}, err
	}
	return profile, nil
}

func (store *store) ProfilePut(ctx context.Context, customer string, fullName string) (model.Profile, error) {
	var profile model.Profile
	row := store.q.QueryRowContext(ctx,
		"INSERT INTO profiles (id, full_name)"+
			" VALUES ($1, $2)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET full_name = EXCLUDED.full_name"+
			" RETURNING id, full_name",
		customer,
		fullName)
	err := row.Scan(&profile.Customer, &profile.FullName)
	if err != nil {
		return model.Profile{}, err
	}
	return profile, nil
}

func (store *store) forUpdate(table string) string {
	if store.locking {
		return " FOR UPDATE OF " + table
	}
	return ""
}

func (store *store) BalanceGet(ctx context.Context, customer string) (model.Balance, error) {
	var balance model.Balance
	row := store.q.QueryRowContext(ctx,
		"SELECT t.user_id, t.balance, t.updated_at"+
			" FROM user_tokens AS t"+
			" WHERE t.user_id = $1"+
			store.forUpdate("t"),
		customer)
	err := row.Scan(&balance.Customer, &balance.Balance, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Balance{}, ErrNoRows
		}
		return model.Balance{}, err
	}
	return balance, nil
}

func (store *store) BalancePost(ctx context.Context, customer string, balance int) (model.Balance, error) {
	// Создание записи, если ее еще нет
	_, err := store.q.ExecContext(ctx,
		"INSERT INTO user_tokens (user_id, balance, updated_at)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (user_id) DO NOTHING",
		customer,
		balance,
		time.Now().UTC())
	if err != nil {
		return model.Balance{}, err
	}
	return store.BalanceGet(ctx, customer)
}

func (store *store) BalancePut(ctx context.Context, customer string, balance int) (model.Balance, error) {
	// Безусловная перезапись
	var balanceRow model.Balance
	row := store.q.QueryRowContext(ctx,
		"INSERT INTO user_tokens (user_id, balance, updated_at)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (user_id) DO UPDATE"+
			" SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at"+
			" RETURNING user_id, balance, updated_at",
		customer,
		balance,
		time.Now().UTC())
	err := row.Scan(&balanceRow.Customer, &balanceRow.Balance, &balanceRow.UpdatedAt)
	if err != nil {
		return model.Balance{}, err
	}
	return balanceRow, nil
}

func (store *store) BalanceSwap(ctx context.Context, customer string, expected int, balance int) error {
	// Условное обновление: только если баланс не изменился с момента чтения
	result, err := store.q.ExecContext(ctx,
		"UPDATE user_tokens"+
			" SET balance = $3, updated_at = $4"+
			" WHERE user_id = $1"+
			"   AND balance = $2",
		customer,
		expected,
		balance,
		time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err = store.BalanceGet(ctx, customer); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

const productColumns = "m.id, m.user_id, COALESCE(p.full_name, ''), m.title, m.description, m.price," +
	" m.category, m.image_url, m.product_link, m.status, m.created_at, m.updated_at"

func scanProduct(row interface{ Scan(dest ...any) error }) (model.Product, error) {
	var product model.Product
	err := row.Scan(&product.ID,
		&product.Data.Owner,
		&product.Data.OwnerName,
		&product.Data.Title,
		&product.Data.Description,
		&product.Data.Price,
		&product.Data.Category,
		&product.Data.ImageURL,
		&product.Data.ProductLink,
		&product.Data.Status,
		&product.Data.CreatedAt,
		&product.Data.UpdatedAt)
	return product, err
}

func (store *store) ProductGet(ctx context.Context, id string) (model.Product, error) {
	row := store.q.QueryRowContext(ctx,
		"SELECT "+productColumns+
			" FROM marketplace_products AS m"+
			" LEFT JOIN profiles AS p ON p.id = m.user_id"+
			" WHERE m.id = $1"+
			store.forUpdate("m"),
		id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, ErrNoRows
		}
		return model.Product{}, err
	}
	return product, nil
}

func (store *store) queryProducts(ctx context.Context, query string, args ...any) ([]model.Product, error) {
	rows, err := store.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []model.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (store *store) ProductList(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	return store.queryProducts(ctx,
		"SELECT "+productColumns+
			" FROM marketplace_products AS m"+
			" LEFT JOIN profiles AS p ON p.id = m.user_id"+
			" WHERE ($1 = '' OR m.status = $1)"+
			"   AND ($2 = '' OR m.category = $2)"+
			"   AND ($3 = '' OR m.title ILIKE '%' || $3 || '%' OR m.description ILIKE '%' || $3 || '%')"+
			" ORDER BY m.created_at DESC",
		filter.Status,
		filter.Category,
		filter.Search)
}

func (store *store) ProductListByOwner(ctx context.Context, owner string) ([]model.Product, error) {
	return store.queryProducts(ctx,
		"SELECT "+productColumns+
			" FROM marketplace_products AS m"+
			" LEFT JOIN profiles AS p ON p.id = m.user_id"+
			" WHERE m.user_id = $1"+
			" ORDER BY m.created_at DESC",
		owner)
}

func (store *store) ProductPost(ctx context.Context, product model.Product) error {
	_, err := store.q.ExecContext(ctx,
		"INSERT INTO marketplace_products"+
			" (id, user_id, title, description, price, category, image_url, product_link, status, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		product.ID,
		product.Data.Owner,
		product.Data.Title,
		product.Data.Description,
		product.Data.Price,
		product.Data.Category,
		product.Data.ImageURL,
		product.Data.ProductLink,
		product.Data.Status,
		product.Data.CreatedAt,
		product.Data.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// productMismatch различает отсутствие записи, чужую запись и проданный товар
func (store *store) productMismatch(ctx context.Context, owner string, id string) error {
	var rowOwner string
	row := store.q.QueryRowContext(ctx,
		"SELECT user_id FROM marketplace_products WHERE id = $1",
		id)
	err := row.Scan(&rowOwner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}
		return err
	}
	if rowOwner != owner {
		return ErrForbidden
	}
	return ErrConflict
}

func (store *store) ProductPut(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error) {
	// Обновляются только переданные поля. Изменять может только владелец,
	// статус проданного товара не меняется
	result, err := store.q.ExecContext(ctx,
		"UPDATE marketplace_products"+
			" SET title = COALESCE($3, title),"+
			"     description = COALESCE($4, description),"+
			"     price = COALESCE($5, price),"+
			"     category = COALESCE($6, category),"+
			"     image_url = COALESCE($7, image_url),"+
			"     product_link = COALESCE($8, product_link),"+
			"     status = COALESCE($9, status),"+
			"     updated_at = $10"+
			" WHERE id = $1"+
			"   AND user_id = $2"+
			"   AND ($9::VARCHAR IS NULL OR status <> 'sold')",
		id,
		owner,
		fields.Title,
		fields.Description,
		fields.Price,
		fields.Category,
		fields.ImageURL,
		fields.ProductLink,
		fields.Status,
		time.Now().UTC())
	if err != nil {
		return model.Product{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return model.Product{}, err
	}
	if affected == 0 {
		return model.Product{}, store.productMismatch(ctx, owner, id)
	}
	return store.ProductGet(ctx, id)
}

func (store *store) ProductDelete(ctx context.Context, owner string, id string) error {
	result, err := store.q.ExecContext(ctx,
		"DELETE FROM marketplace_products"+
			" WHERE id = $1"+
			"   AND user_id = $2",
		id,
		owner)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.productMismatch(ctx, owner, id)
	}
	return nil
}

func (store *store) ProductSwapStatus(ctx context.Context, id string, from string, to string) error {
	result, err := store.q.ExecContext(ctx,
		"UPDATE marketplace_products"+
			" SET status = $3, updated_at = $4"+
			" WHERE id = $1"+
			"   AND status = $2",
		id,
		from,
		to,
		time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err = store.ProductGet(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (store *store) TransactionNextReceipt(ctx context.Context) (int64, error) {
	var seq int64
	row := store.q.QueryRowContext(ctx, "SELECT nextval('marketplace_receipt_seq')")
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (store *store) TransactionPost(ctx context.Context, transaction model.Transaction) error {
	_, err := store.q.ExecContext(ctx,
		"INSERT INTO marketplace_transactions"+
			" (id, receipt, buyer_id, seller_id, product_id, amount, status, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		transaction.ID,
		transaction.Data.Receipt,
		transaction.Data.Buyer,
		transaction.Data.Seller,
		transaction.Data.Product,
		transaction.Data.Amount,
		transaction.Data.Status,
		transaction.Data.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

const transactionColumns = "id, receipt, buyer_id, seller_id, product_id, amount, status, created_at"

func scanTransaction(row interface{ Scan(dest ...any) error }) (model.Transaction, error) {
	var transaction model.Transaction
	err := row.Scan(&transaction.ID,
		&transaction.Data.Receipt,
		&transaction.Data.Buyer,
		&transaction.Data.Seller,
		&transaction.Data.Product,
		&transaction.Data.Amount,
		&transaction.Data.Status,
		&transaction.Data.CreatedAt)
	return transaction, err
}

func (store *store) TransactionList(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := store.q.QueryContext(ctx,
		"SELECT "+transactionColumns+
			" FROM marketplace_transactions"+
			" WHERE ($1 = '' OR buyer_id = $1 OR seller_id = $1)"+
			"   AND ($2 = '' OR status = $2)"+
			" ORDER BY created_at DESC"+
			" LIMIT $3",
		filter.Customer,
		filter.Status,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transactions []model.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func (store *store) TransactionGetByReceipt(ctx context.Context, receipt string) (model.Transaction, error) {
	row := store.q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+
			" FROM marketplace_transactions"+
			" WHERE receipt = $1",
		receipt)
	transaction, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, ErrNoRows
		}
		return model.Transaction{}, err
	}
	return transaction, nil
}
