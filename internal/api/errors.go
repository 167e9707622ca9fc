package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/servernode/internal/errs"
)

// mapError converts domain errors into HTTP errors by code.
func mapError(err error) error {
	var coded *errs.Error
	if !errors.As(err, &coded) {
		return huma.Error500InternalServerError("internal server error", err)
	}

	switch coded.Code {
	case errs.CodeAlreadyRunning:
		return huma.Error409Conflict(coded.Message, err)
	case errs.CodeNotFound, errs.CodeCacheMiss:
		return huma.Error404NotFound(coded.Message, err)
	case errs.CodeInstallFailed:
		return huma.Error502BadGateway(coded.Message, err)
	default:
		return huma.Error500InternalServerError(coded.Message, err)
	}
}
