package plurl

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidMethod is returned before any network I/O when a caller
// passes an HTTP method outside the standard seven verbs.
var ErrInvalidMethod = errors.New("invalid HTTP method")

var validMethods = map[string]struct{}{
	"GET":     {},
	"POST":    {},
	"PUT":     {},
	"DELETE":  {},
	"PATCH":   {},
	"HEAD":    {},
	"OPTIONS": {},
}

// NormalizeMethod uppercases method and validates it against the
// standard verb set.
func NormalizeMethod(method string) (string, error) {
	m := strings.ToUpper(method)
	if _, ok := validMethods[m]; !ok {
		return "", errors.Wrap(ErrInvalidMethod, method)
	}
	return m, nil
}
