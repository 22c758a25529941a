package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

const timestampLayout = "02-01-2006 15:04:05"

// Категории ошибок в теле ответа.
const (
	categoryNotFound      = "Resource not found"
	categoryInconsistent  = "Inconsistent data"
	categoryAuthorization = "Authorization failed"
	categoryValidation    = "Validation failed"
	categoryServer        = "Server Error"
)

var errRouteNotFound = errors.New("route not found")

// ErrorResponse: тело ответа с ошибкой.
type ErrorResponse struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// handlerFunc: обработчик, который возвращает ошибку вместо записи ответа.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// errorMapper превращает ошибки обработчиков в ErrorResponse.
type errorMapper struct {
	logger *log.Entry
	now    func() time.Time
}

func (m errorMapper) wrap(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			m.write(w, r, err)
		}
	}
}

func (m errorMapper) write(w http.ResponseWriter, r *http.Request, err error) {
	status, category := classify(err)
	message := errorMessage(err)

	entry := m.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		if !errors.Is(err, domain.ErrServiceUnavailable) {
			message = "Internal server error"
		}
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, status, ErrorResponse{
		Status:    status,
		Error:     category,
		Message:   message,
		Timestamp: m.now().Format(timestampLayout),
	})
}

func classify(err error) (int, string) {
	switch {
	case domain.IsNotFound(err), errors.Is(err, errRouteNotFound):
		return http.StatusNotFound, categoryNotFound
	case errors.Is(err, domain.ErrInconsistentData):
		return http.StatusBadRequest, categoryInconsistent
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusBadRequest, categoryAuthorization
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, categoryValidation
	default:
		return http.StatusInternalServerError, categoryServer
	}
}

func errorMessage(err error) string {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// badRequest оформляет ошибку разбора запроса как ошибку валидации.
func badRequest(field, message string) error {
	verr := domain.NewValidationError()
	verr.Add(field, message)
	return verr
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return badRequest("body", "malformed JSON")
	}
	return nil
}
