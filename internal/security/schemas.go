package security

import (
	"strings"

	"github.com/moldovadirect/cart-engine/internal/domain"
	apperrors "github.com/moldovadirect/cart-engine/pkg/errors"
	"github.com/moldovadirect/cart-engine/pkg/validator"
)

// MaxCartValue caps the total cart value a gated mutation may
// produce, in EUR.
const MaxCartValue = 10000

// Operation payload schemas. The gate fails closed: a payload that
// violates its schema aborts the operation with every violation
// listed.

type addItemPayload struct {
	SessionID string  `validate:"required"`
	ProductID string  `validate:"required,max=50"`
	Name      string  `validate:"required"`
	Price     float64 `validate:"gte=0"`
	Stock     int     `validate:"gte=0"`
	Quantity  int     `validate:"required,gte=1,lte=100"`
}

type updateQuantityPayload struct {
	SessionID string `validate:"required"`
	LineID    string `validate:"required"`
	Quantity  int    `validate:"gte=0,lte=100"`
}

type lineRefPayload struct {
	SessionID string `validate:"required"`
	LineID    string `validate:"required"`
}

type sessionOnlyPayload struct {
	SessionID string `validate:"required"`
}

type bulkQuantityPayload struct {
	SessionID string `validate:"required"`
	Quantity  int    `validate:"required,gte=1,lte=100"`
}

// checkSchema validates payload and collects any extra structural
// violations into one fail-closed error.
func checkSchema(payload any, extra ...string) error {
	var violations []string

	if err := validator.Validate(payload); err != nil {
		var verr *validator.ValidationError
		if ok := asValidationError(err, &verr); ok {
			violations = append(violations, verr.Messages()...)
		} else {
			violations = append(violations, err.Error())
		}
	}
	violations = append(violations, extra...)

	if len(violations) > 0 {
		return apperrors.ValidationFailed(strings.Join(violations, "; "))
	}
	return nil
}

func asValidationError(err error, target **validator.ValidationError) bool {
	verr, ok := err.(*validator.ValidationError)
	if ok {
		*target = verr
	}
	return ok
}

// productIDViolations returns pattern violations for a product id not
// caught by tag validation.
func productIDViolations(productID string) []string {
	if productID == "" || domain.ValidProductID(productID) {
		return nil
	}
	return []string{"field 'ProductID' must match the product id pattern"}
}
