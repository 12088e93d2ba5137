package handler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/shop-orders/internal/domain/order"
)

var errMalformed = errors.New("malformed JSON body")

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &order.ValidationError{Message: "Validation error", Fields: f}
}

// decodeCreate reads a create request. Unknown keys, including any client
// price or total, are skipped.
func decodeCreate(data []byte) (order.CreateRequest, error) {
	var (
		req  order.CreateRequest
		errs = fieldErrors{}
	)
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return req, errMalformed
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_name":
			return decodeString(d, key, &req.CustomerName, errs)
		case "contact_number":
			return decodeString(d, key, &req.ContactNumber, errs)
		case "customer_email":
			return decodeString(d, key, &req.CustomerEmail, errs)
		case "delivery_address":
			return decodeString(d, key, &req.DeliveryAddress, errs)
		case "delivery_city":
			return decodeString(d, key, &req.DeliveryCity, errs)
		case "delivery_note":
			return decodeString(d, key, &req.DeliveryNote, errs)
		case "payment_method":
			var s string
			if err := decodeString(d, key, &s, errs); err != nil {
				return err
			}
			req.PaymentMethod = order.PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
			return nil
		case "payment_number":
			return decodeString(d, key, &req.PaymentNumber, errs)
		case "transaction_id":
			return decodeString(d, key, &req.TransactionID, errs)
		case "items":
			return decodeItems(d, &req.Items, errs)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, errors.Wrap(errMalformed, err.Error())
	}
	return req, errs.err()
}

func decodeItems(d *jx.Decoder, items *[]order.ItemRequest, errs fieldErrors) error {
	switch d.Next() {
	case jx.Null:
		return d.Null()
	case jx.Array:
	default:
		errs["items"] = "Expected a list of items."
		return d.Skip()
	}

	*items = []order.ItemRequest{}
	return d.Arr(func(d *jx.Decoder) error {
		prefix := fmt.Sprintf("items[%d]", len(*items))
		var it order.ItemRequest
		defer func() { *items = append(*items, it) }()

		if d.Next() != jx.Object {
			errs[prefix] = "Expected an object."
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "product", "product_id":
				return decodeInt(d, prefix+".product", &it.ProductID, errs)
			case "quantity":
				var q int64
				if err := decodeInt(d, prefix+".quantity", &q, errs); err != nil {
					return err
				}
				if q > math.MaxInt32 || q < math.MinInt32 {
					errs[prefix+".quantity"] = "Ensure this value is less than or equal to 2147483647."
					return nil
				}
				it.Quantity = int(q)
				return nil
			case "size":
				return decodeString(d, prefix+".size", &it.Size, errs)
			case "color":
				return decodeString(d, prefix+".color", &it.Color, errs)
			default:
				return d.Skip()
			}
		})
	})
}

// decodePatch reads a lifecycle update. Every key besides status and
// payment_status is reported in Patch.Unknown.
func decodePatch(data []byte) (order.Patch, error) {
	var (
		p    order.Patch
		errs = fieldErrors{}
	)
	if len(strings.TrimSpace(string(data))) == 0 {
		return p, nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return p, errMalformed
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			var s string
			if err := decodeString(d, key, &s, errs); err != nil {
				return err
			}
			st := order.Status(strings.TrimSpace(s))
			p.Status = &st
			return nil
		case "payment_status":
			var s string
			if err := decodeString(d, key, &s, errs); err != nil {
				return err
			}
			ps := order.PaymentStatus(strings.TrimSpace(s))
			p.PaymentStatus = &ps
			return nil
		default:
			p.Unknown = append(p.Unknown, key)
			return d.Skip()
		}
	})
	if err != nil {
		return p, errors.Wrap(errMalformed, err.Error())
	}
	return p, errs.err()
}

func decodeString(d *jx.Decoder, key string, dst *string, errs fieldErrors) error {
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	case jx.Null:
		return d.Null()
	default:
		errs[key] = "Not a valid string."
		return d.Skip()
	}
}

// decodeInt accepts a JSON integer or a string holding one.
func decodeInt(d *jx.Decoder, key string, dst *int64, errs fieldErrors) error {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		v, err := n.Int64()
		if err != nil {
			errs[key] = "A valid integer is required."
			return nil
		}
		*dst = v
		return nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			errs[key] = "A valid integer is required."
			return nil
		}
		*dst = v
		return nil
	case jx.Null:
		return d.Null()
	default:
		errs[key] = "A valid integer is required."
		return d.Skip()
	}
}
