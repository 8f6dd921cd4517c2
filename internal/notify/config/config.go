package config

type Config struct {
	// Пустая строка - уведомления отключены
	RedisAddr string
	Channel   string
}
