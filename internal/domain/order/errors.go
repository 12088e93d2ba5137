package order

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed or missing input. Fields maps the
// offending input field to a human-readable message.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Message)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{
		Message: "Validation error",
		Fields:  map[string]string{field: msg},
	}
}

// OutOfStockError is a validation failure raised when a product cannot
// cover the requested quantity.
type OutOfStockError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d, requested: %d.",
		e.Name, e.Available, e.Requested)
}

// Unwrap exposes the failure as a ValidationError keyed by "items".
func (e *OutOfStockError) Unwrap() error {
	return invalidField("items", e.Error())
}

// PermissionError is returned when the caller's role does not allow the
// operation.
type PermissionError struct {
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("You don't have permission to %s this order.", e.Action)
}

// InvalidStateError is returned when the current order status forbids the
// operation.
type InvalidStateError struct {
	OrderID int64
	Status  Status
	Reason  string
}

func (e *InvalidStateError) Error() string {
	return e.Reason
}

// NotFoundError is returned when an order or product does not exist or is
// hidden from the caller.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// TransientError wraps storage failures that rolled back cleanly and may be
// retried: lock timeouts, deadlocks, serialization and connection failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient storage failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }
