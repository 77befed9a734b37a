package validation

import (
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register struct-level validation for CheckoutRequest to ensure
	// totalAmount equals the sum of (unitPrice * quantity) minus discount.
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})

	return v
}

// checkoutStructValidation checks money fields with exact decimal arithmetic.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	sum := orders.Zero
	for i, it := range req.Items {
		if it.UnitPrice.IsNegative() {
			sl.ReportError(it.UnitPrice, fmt.Sprintf("items[%d].unitPrice", i), "UnitPrice", "gte", "0")
		}
		sum = sum.Add(it.UnitPrice.MulInt(it.Quantity))
	}
	if orders.ProductLines(toOrderItems(req.Items)) > orders.MaxProductLines {
		sl.ReportError(req.Items, "items", "Items", "max_product_lines", fmt.Sprintf("%d", orders.MaxProductLines))
	}
	if req.Discount.IsNegative() {
		sl.ReportError(req.Discount, "discount", "Discount", "gte", "0")
	}
	if !req.TotalAmount.IsPositive() {
		sl.ReportError(req.TotalAmount, "totalAmount", "TotalAmount", "gt", "0")
		return
	}

	want := sum.Sub(req.Discount)
	if !want.Equal(req.TotalAmount) {
		sl.ReportError(req.TotalAmount, "totalAmount", "TotalAmount", "amount_match_items",
			fmt.Sprintf("items sum %s - discount %s != total %s", sum.String(), req.Discount.String(), req.TotalAmount.String()))
	}
}
