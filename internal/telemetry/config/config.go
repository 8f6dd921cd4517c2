package config

type Config struct {
	// Пустая строка - экспорт трассировки отключен
	OTLPEndpoint string
	ServiceName  string
}
