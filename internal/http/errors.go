package httpx

import (
	"errors"
	"net/http"

	"github.com/target/assessment-jobs/internal/domain/model"
	apperrors "github.com/target/assessment-jobs/internal/errors"
	"github.com/target/assessment-jobs/internal/service"
)

// WriteServiceError maps a service error onto a status and JSON error body.
// Unrecognised errors become a 500 without leaking their message.
func WriteServiceError(w http.ResponseWriter, err error, errCode string) {
	status, public := classifyServiceError(err)
	if public == nil {
		public = errors.New(http.StatusText(status))
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: errCode, Err: public})
}

func classifyServiceError(err error) (int, error) {
	switch {
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrResultNotFound):
		return http.StatusNotFound, err
	case errors.Is(err, model.ErrIllegalTransition):
		return http.StatusConflict, err
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err
	case errors.Is(err, service.ErrFeatureDisabled):
		return http.StatusNotImplemented, err
	}

	mapped := apperrors.MapDBError(err)
	var appErr *apperrors.AppError
	if errors.As(mapped, &appErr) {
		status := apperrors.HTTPStatus(appErr.Code)
		if status >= http.StatusInternalServerError {
			return status, nil
		}
		return status, errors.New(appErr.Message)
	}
	return http.StatusInternalServerError, nil
}
