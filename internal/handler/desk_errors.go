package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/middleware"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/observability"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

// actorFrom returns who is calling, or the system when no session is set.
func actorFrom(c *gin.Context) model.Actor {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.UserID == "" {
		return model.SystemActor
	}
	return model.Actor{UserID: claims.UserID, UserName: claims.Name}
}

// failDesk maps desk service errors onto the response catalogue.
func failDesk(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrStudentNotFound),
		errors.Is(err, service.ErrQuestionNotFound),
		errors.Is(err, service.ErrClassNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrUserNotFound)
	case errors.Is(err, service.ErrExaminerNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExaminerNotFound)
	case errors.Is(err, service.ErrInvalidRewardQR):
		response.Fail(c, http.StatusNotFound, response.ErrRewardInvalidQR)
	case errors.Is(err, service.ErrUsernameTaken):
		response.Fail(c, http.StatusConflict, response.ErrUsernameTaken)
	case errors.Is(err, service.ErrClassExists):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	case errors.Is(err, service.ErrRewardExists):
		response.Fail(c, http.StatusConflict, response.ErrRewardExists)
	case errors.Is(err, service.ErrRewardClaimed):
		response.Fail(c, http.StatusConflict, response.ErrRewardClaimed)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
	case errors.Is(err, service.ErrWrongPassword):
		response.Fail(c, http.StatusBadRequest, response.ErrWrongPassword)
	case errors.Is(err, service.ErrPasswordTooShort):
		response.Fail(c, http.StatusBadRequest, response.ErrPasswordTooShort)
	case errors.Is(err, service.ErrProtectedUser):
		response.Fail(c, http.StatusForbidden, response.ErrActionForbidden)
	case errors.Is(err, service.ErrInvalidBackup):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidBackup)
	case errors.Is(err, service.ErrEmptyQuestion),
		errors.Is(err, service.ErrInvalidSettingValue):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	case errors.Is(err, service.ErrUploadUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrAuthorityOffline)
	case syncerr.Is(err, syncerr.KindQuotaExceeded):
		observability.CaptureErr(err)
		response.Fail(c, http.StatusInsufficientStorage, response.ErrQuotaExceeded)
	case syncerr.Transient(err):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrAuthorityOffline)
	case syncerr.Is(err, syncerr.KindAuthorityRejected):
		response.FailWithMessage(c, http.StatusBadGateway, response.ErrSyncRejected, err.Error())
	default:
		observability.CaptureErr(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
