package config

type Config struct {
	// Секрет подписи JWT провайдера аутентификации (HS256)
	JWTSecret string
	// Проверка токена через провайдера, если секрет не задан
	AuthURL    string
	AuthAPIKey string
}
