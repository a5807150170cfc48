package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teemow/mailminder/internal/credential"
	"github.com/teemow/mailminder/internal/gmail"
	"github.com/teemow/mailminder/internal/ingest"
	"github.com/teemow/mailminder/internal/store"
)

// Client-facing error messages.
const (
	msgNoIdentity      = "Authentication required. Please sign in again."
	msgNoProviderToken = "Gmail access token expired. Please sign out and sign in again to re-authorize Gmail access."
	msgAuthRejected    = "Gmail API authentication failed"
	msgTransport       = "Failed to fetch emails from Gmail API"
	msgInvalidRequest  = "Invalid request"
	msgSenderNotFound  = "Sender not found"
	msgPersistence     = "Failed to store emails"
	msgSenderExists    = "Sender already exists"
	msgInternal        = "Internal server error"
)

// APIError is the JSON body of every failed API response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// errorResponse maps an error from the ingest stack or the store to the
// response the client sees. Unknown errors become a generic 500.
func errorResponse(err error) *APIError {
	var (
		authErr     *credential.AuthError
		providerErr *gmail.ProviderError
		persistErr  *ingest.PersistenceError
		apiErr      *APIError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &authErr):
		if authErr.Kind == credential.NoProviderToken {
			return &APIError{Status: http.StatusUnauthorized, Message: msgNoProviderToken}
		}
		return &APIError{Status: http.StatusUnauthorized, Message: msgNoIdentity}
	case errors.As(err, &providerErr):
		if providerErr.Kind == gmail.AuthRejected {
			return &APIError{Status: http.StatusBadGateway, Message: msgAuthRejected, Details: providerErr.ProviderMessage()}
		}
		return &APIError{Status: http.StatusBadGateway, Message: msgTransport}
	case errors.As(err, &persistErr):
		return &APIError{Status: http.StatusInternalServerError, Message: msgPersistence}
	case errors.Is(err, ingest.ErrInvalidRequest):
		return &APIError{Status: http.StatusBadRequest, Message: msgInvalidRequest}
	case errors.Is(err, ingest.ErrSenderNotFound), errors.Is(err, store.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Message: msgSenderNotFound}
	case errors.Is(err, store.ErrDuplicate):
		return &APIError{Status: http.StatusConflict, Message: msgSenderExists}
	default:
		return &APIError{Status: http.StatusInternalServerError, Message: msgInternal}
	}
}

// abortWithError writes the mapped error and stops the handler chain.
// The original error is kept on the context for the request logger.
func abortWithError(c *gin.Context, err error) {
	resp := errorResponse(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(resp.Status, resp)
}

func invalidRequest(details string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: msgInvalidRequest, Details: details}
}
