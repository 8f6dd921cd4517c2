package config

const (
	PurchaseModeAtomic = "atomic"
	PurchaseModeSaga   = "saga"
)

type Config struct {
	StartingGrant int
	PurchaseMode  string
}
