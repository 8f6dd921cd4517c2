package model

import "time"

// Пользователь (из токена провайдера аутентификации)

type User struct {
	ID    string
	Email string
	Role  string
}

const UserRoleAdmin = "admin"

func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// Профиль пользователя. Имя показывается продавцом на витрине

type Profile struct {
	Customer string
	FullName string
}

// Баланс токенов

type Balance struct {
	Customer  string
	Balance   int
	UpdatedAt time.Time
}

// Стартовый баланс пользователя без записи в user_tokens
const DefaultStartingGrant = 10000

// Товары

type Product struct {
	ID   string
	Data ProductData
}
type ProductData struct {
	Owner       string
	OwnerName   string
	Title       string
	Description string
	Price       int
	Category    string
	ImageURL    string
	ProductLink string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	ProductStatusActive   = "active"
	ProductStatusSold     = "sold"
	ProductStatusInactive = "inactive"
)

const UnknownSellerName = "Unknown Seller"

var ProductCategories = []string{
	"Technology",
	"Design",
	"Business",
	"Education",
	"Health",
	"Entertainment",
	"Other",
}

// Поля товара от владельца. nil - поле не передано
type ProductFields struct {
	Title       *string
	Description *string
	Price       *int
	Category    *string
	ImageURL    *string
	ProductLink *string
	Status      *string
}

type ProductFilter struct {
	Status   string
	Category string
	Search   string
}

// Журнал сделок

type Transaction struct {
	ID   string
	Data TransactionData
}
type TransactionData struct {
	Receipt   string
	Buyer     string
	Seller    string
	Product   string
	Amount    int
	Status    string
	CreatedAt time.Time
}

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

type TransactionFilter struct {
	Customer string
	Status   string
	Limit    int
}

// События для админки

type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Customer  string    `json:"customer,omitempty"`
	Product   string    `json:"product,omitempty"`
	Receipt   string    `json:"receipt,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

const (
	EventTransactionCompleted = "transaction.completed"
	EventPurchasePartial      = "purchase.partial_failure"
	EventProductCreated       = "product.created"
	EventProductUpdated       = "product.updated"
	EventProductDeleted       = "product.deleted"
	EventBalanceSet           = "balance.set"
	EventProfileUpdated       = "profile.updated"
)
