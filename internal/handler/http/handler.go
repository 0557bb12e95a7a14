package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/middleware"
	"github.com/pavelchamgl/reli.one-sub000/pkg/validator"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst, false); err != nil {
		return err
	}
	return validator.Validate(dst)
}

// decodeJSON reads a JSON body into dst without validating it. An empty
// body leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	return nil
}

func clientID(r *http.Request) string {
	return middleware.ClientIDFromContext(r.Context())
}
