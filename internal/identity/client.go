// Package identity обращается к внешнему сервису пользователей.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

const (
	// DefaultTimeout ограничивает каждый запрос к сервису пользователей.
	DefaultTimeout = 5 * time.Second

	bearerPrefix = "Bearer "
)

// BearerToken извлекает токен из заголовка Authorization.
// Токен не проверяется, только передаётся дальше.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", domain.NewError(domain.ErrAuthorization, "Invalid <Authorization> header")
	}
	return strings.TrimPrefix(header, bearerPrefix), nil
}

// Client: HTTP-реализация domain.IdentityClient.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

// NewClient создаёт клиент сервиса пользователей. timeout<=0 заменяется на DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithField("component", "identity-client"),
	}
}

// ResolveByEmail выполняет GET /users/email/{email}.
func (c *Client) ResolveByEmail(ctx context.Context, token, email string) (domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/users/email/"+url.PathEscape(email), nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("build identity request: %w", err)
	}

	var identity domain.Identity
	if err := c.do(req, token, &identity); err != nil {
		return domain.Identity{}, err
	}
	if identity.ID == "" {
		return domain.Identity{}, domain.NewError(domain.ErrUserNotFound, "User not found")
	}
	return identity, nil
}

// ResolveByIDs выполняет POST /users/ids одним запросом на весь набор.
// 404 трактуется как пустой результат.
func (c *Client) ResolveByIDs(ctx context.Context, token string, ids []string) ([]domain.Identity, error) {
	body, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal identity ids: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/ids", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var identities []domain.Identity
	if err := c.do(req, token, &identities); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return []domain.Identity{}, nil
		}
		return nil, err
	}
	if identities == nil {
		identities = []domain.Identity{}
	}
	return identities, nil
}

func (c *Client) do(req *http.Request, token string, out any) error {
	req.Header.Set("Authorization", bearerPrefix+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", req.URL.Path).Error("user service request failed")
		return unavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return unavailable(fmt.Errorf("decode identity response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewError(domain.ErrUserNotFound, "User not found")
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.NewError(domain.ErrAuthorization, "Incorrect token")
	default:
		// Прочие 4xx (400, 403, 409...) тоже сбой вызова identity-сервиса, а не ошибка клиента:
		// наружу уходят как ServiceUnavailable (500), как и 5xx.
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.WithFields(log.Fields{
			"url":    req.URL.Path,
			"status": resp.StatusCode,
		}).Error("user service returned unexpected status")
		return unavailable(fmt.Errorf("user service status %d", resp.StatusCode))
	}
}

func unavailable(cause error) error {
	return domain.NewError(domain.ErrServiceUnavailable, "User Service unavailable").WithCause(cause)
}

var _ domain.IdentityClient = (*Client)(nil)
