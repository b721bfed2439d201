package validation

import (
	"strings"

	"github.com/bcnelson/stack-manager/internal/domain"
)

// ValidationError is a rejected field of a stack request.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every rejected field of one request, in the
// order the fields were checked.
type ValidationErrors []*ValidationError

// Error joins the messages of all rejected fields.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add rejects field. value is the offending input, if there is one.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: message})
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// DomainError wraps the collection as an InvalidInput error whose message
// lists every rejected field.
func (e ValidationErrors) DomainError() *domain.Error {
	return domain.NewError(domain.KindInvalidInput, e.Error(), e)
}

// Field returns the first rejected field, reported as the error field of the
// response.
func (e ValidationErrors) Field() string {
	if len(e) == 0 {
		return ""
	}
	return e[0].Field
}
