package admission

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MaxNameLength bounds a bidder display name, in characters
const MaxNameLength = 255

// maxPrice is the first value that no longer fits NUMERIC(12,2)
var maxPrice = decimal.New(1, 10)

// Bounds on the decimal magnitude of a price, checked before any arithmetic.
// A parsed exponent may be as large as an int32, and rescaling such a value costs
// time proportional to the exponent.
const (
	maxPriceMagnitude = 10 // integer digits below maxPrice
	minPriceMagnitude = -2 // anything smaller than 0.001 rounds to zero
)

type proposalInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Price string `json:"price" validate:"required,max=64"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	return v
}

// normalizeProposal trims the name and rounds the price half-up to two places.
// It never looks at the ledger.
func (g *Gate) normalizeProposal(p models.BidProposal) (string, decimal.Decimal, error) {
	in := proposalInput{
		Name:  strings.TrimSpace(p.Name),
		Price: strings.TrimSpace(p.Price),
	}

	var fields []biddingerrors.FieldError
	if err := g.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return "", decimal.Decimal{}, fmt.Errorf("validate proposal: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, biddingerrors.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
	}

	var price decimal.Decimal
	if in.Price != "" && utf8.RuneCountInString(in.Price) <= 64 {
		parsed, err := decimal.NewFromString(in.Price)
		switch {
		case err != nil:
			fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "must be a decimal number"})
		case parsed.Sign() <= 0:
			fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "must be greater than 0"})
		case magnitude(parsed) > maxPriceMagnitude:
			fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "exceeds the maximum bid"})
		case magnitude(parsed) < minPriceMagnitude:
			fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "must be greater than 0"})
		default:
			price = parsed.Round(models.PriceScale)
			if !price.IsPositive() {
				fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "must be greater than 0"})
			} else if price.GreaterThanOrEqual(maxPrice) {
				fields = append(fields, biddingerrors.FieldError{Field: "price", Message: "exceeds the maximum bid"})
			}
		}
	}

	if len(fields) > 0 {
		return "", decimal.Decimal{}, &biddingerrors.ValidationError{Fields: fields}
	}
	return in.Name, price, nil
}

// magnitude returns m such that 10^(m-1) <= |d| < 10^m, for d != 0.
// It only counts coefficient digits, so it is cheap for any exponent.
func magnitude(d decimal.Decimal) int64 {
	return int64(d.NumDigits()) + int64(d.Exponent())
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
