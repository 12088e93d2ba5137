package order

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

// CreateRequest is the input of the creation transaction. Client-supplied
// prices and totals are never part of it.
type CreateRequest struct {
	CustomerName    string        `field:"customer_name" validate:"max=255"`
	ContactNumber   string        `field:"contact_number" validate:"required,max=20"`
	CustomerEmail   string        `field:"customer_email" validate:"omitempty,email,max=255"`
	DeliveryAddress string        `field:"delivery_address" validate:"required"`
	DeliveryCity    string        `field:"delivery_city" validate:"required,max=100"`
	DeliveryNote    string        `field:"delivery_note"`
	PaymentMethod   PaymentMethod `field:"payment_method" validate:"omitempty,oneof=bkash rocket nagad cod"`
	PaymentNumber   string        `field:"payment_number" validate:"max=30"`
	TransactionID   string        `field:"transaction_id" validate:"max=50"`
	Items           []ItemRequest `field:"items" validate:"required,min=1,dive"`

	IdempotencyKey string `validate:"-"`
	ClientIP       string `validate:"-"`
}

// ItemRequest is a requested order line.
type ItemRequest struct {
	ProductID int64  `field:"product" validate:"required"`
	Quantity  int    `field:"quantity" validate:"gt=0"`
	Size      string `field:"size" validate:"max=50"`
	Color     string `field:"color" validate:"max=30"`
}

func (r *CreateRequest) trim() {
	for _, s := range []*string{
		&r.CustomerName, &r.ContactNumber, &r.CustomerEmail, &r.DeliveryAddress,
		&r.DeliveryCity, &r.DeliveryNote, &r.PaymentNumber, &r.TransactionID,
	} {
		*s = strings.TrimSpace(*s)
	}
	r.Items = slices.Clone(r.Items)
	for i := range r.Items {
		r.Items[i].Size = strings.TrimSpace(r.Items[i].Size)
		r.Items[i].Color = strings.TrimSpace(r.Items[i].Color)
	}
}

var requiredMessages = map[string]string{
	"contact_number":   "Contact number is required.",
	"delivery_address": "Delivery address is required.",
	"delivery_city":    "Delivery city is required.",
	"items":            "At least one item is required.",
	"product":          "Product is required.",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("field"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// check runs struct validation and converts failures into a field-keyed
// ValidationError.
func (s *Service) check(req *CreateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate request")
	}

	verr := &ValidationError{
		Message: "Validation error",
		Fields:  make(map[string]string, len(fieldErrs)),
	}
	for _, fe := range fieldErrs {
		key := fieldKey(fe)
		if _, ok := verr.Fields[key]; ok {
			continue
		}
		verr.Fields[key] = fieldMessage(fe)
	}
	return verr
}

// fieldKey drops the struct name from the namespace:
// "CreateRequest.items[0].quantity" becomes "items[0].quantity".
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		if msg, ok := requiredMessages[fe.Field()]; ok {
			return msg
		}
		return "This field is required."
	case "oneof":
		if fe.Field() == "payment_method" {
			return "Invalid payment method."
		}
		return fmt.Sprintf("%q is not a valid choice.", fe.Value())
	case "gt":
		return "Quantity must be greater than 0."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	default:
		return "Invalid value."
	}
}
