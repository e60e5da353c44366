package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/repository"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// importErrorCases maps the import pipeline's failure modes onto HTTP
// statuses: domain conflicts are 409, an unreachable storage pool is 503.
func importErrorCases() []ErrorCase {
	return []ErrorCase{
		{Err: domain.ErrEmailAlreadyExists, Status: http.StatusConflict, Message: domain.ErrEmailAlreadyExists.Error()},
		{Err: domain.ErrPhoneAlreadyExists, Status: http.StatusConflict, Message: domain.ErrPhoneAlreadyExists.Error()},
		{Err: domain.ErrThirdPartyUserExists, Status: http.StatusConflict, Message: domain.ErrThirdPartyUserExists.Error()},
		{Err: domain.ErrExternalIDAlreadyExists, Status: http.StatusConflict, Message: domain.ErrExternalIDAlreadyExists.Error()},
		{Err: domain.ErrAccountsAlreadyLinked, Status: http.StatusConflict, Message: domain.ErrAccountsAlreadyLinked.Error()},
		{Err: domain.ErrTotpDeviceExists, Status: http.StatusConflict, Message: domain.ErrTotpDeviceExists.Error()},
		{Err: repository.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Message: "storage temporarily unavailable"},
	}
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
