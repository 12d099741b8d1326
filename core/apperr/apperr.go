// Package apperr carries machine-checkable domain errors across service
// boundaries. Handlers map codes onto HTTP statuses; offending identifiers
// travel in Fields so callers can self-correct.
package apperr

import "errors"

type Error struct {
	Code    string
	I18NKey string
	Fields  map[string]any
}

func New(code, i18nKey string) *Error {
	return &Error{Code: code, I18NKey: i18nKey}
}

func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

func (e *Error) Error() string {
	return e.Code
}

func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
