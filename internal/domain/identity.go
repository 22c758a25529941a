package domain

import "context"

// Identity: проекция пользователя из identity-сервиса. Локально не хранится.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	BirthDate string `json:"birthDate"`
	Email     string `json:"email"`
}

// IdentityClient разрешает пользователей во внешнем identity-сервисе.
// Токен передаётся как есть и локально не проверяется.
type IdentityClient interface {
	// ResolveByEmail возвращает пользователя или ErrUserNotFound/ErrAuthorization/ErrServiceUnavailable.
	ResolveByEmail(ctx context.Context, token, email string) (Identity, error)
	// ResolveByIDs возвращает найденных пользователей одним запросом.
	ResolveByIDs(ctx context.Context, token string, ids []string) ([]Identity, error)
}
