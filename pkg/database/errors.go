package database

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// IsNoRows reports whether err means a single-row query found nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsNotFound reports whether err is a repository 404.
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
