package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/markdave123-py/Parley/internal/core"
)

const (
	maxBodyBytes = 1 << 20
	// keeps (page-1)*page_size far from overflowing an int offset
	maxPage = 1_000_000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", core.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON body", core.ErrValidation)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", core.ErrValidation, strings.Join(msgs, "; "))
}

// pageParams reads page and page_size, enforcing 1 <= page <= maxPage and
// 1 <= page_size <= maxSize.
func pageParams(r *http.Request, defaultSize, maxSize int) (int, int, error) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(r, "page_size", defaultSize)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 || page > maxPage {
		return 0, 0, fmt.Errorf("%w: page must be between 1 and %d", core.ErrValidation, maxPage)
	}
	if size < 1 || size > maxSize {
		return 0, 0, fmt.Errorf("%w: page_size must be between 1 and %d", core.ErrValidation, maxSize)
	}
	return page, size, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", core.ErrValidation, name)
	}
	return n, nil
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
