package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultCutoff    = 100000.0
	DefaultWindow    = 20000.0
	DefaultMinSample = 30
)

// Params are the inputs of one analysis run.
type Params struct {
	Filter Filter  `json:"filter"`
	Cutoff float64 `json:"cutoff" validate:"gt=0"`
	Window float64 `json:"window" validate:"gt=0"`
}

// DefaultParams returns an unfiltered run at the default cutoff and window.
func DefaultParams() Params {
	return Params{Cutoff: DefaultCutoff, Window: DefaultWindow}
}

// Bounds are the plausibility limits applied while cleaning. Price and
// mileage limits are exclusive.
type Bounds struct {
	PriceMin   float64 `json:"price_min" validate:"gte=0"`
	PriceMax   float64 `json:"price_max" validate:"gtfield=PriceMin"`
	MileageMin float64 `json:"mileage_min" validate:"gte=0"`
	MileageMax float64 `json:"mileage_max" validate:"gtfield=MileageMin"`
	MinSample  int     `json:"min_sample" validate:"gte=0"`
}

// DefaultBounds returns price in (1000, 150000), mileage in (10000, 300000)
// and a 30-observation small-sample threshold.
func DefaultBounds() Bounds {
	return Bounds{
		PriceMin:   1000,
		PriceMax:   150000,
		MileageMin: 10000,
		MileageMax: 300000,
		MinSample:  DefaultMinSample,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

// Validate checks the run parameters.
func (p Params) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if err := p.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Validate checks the cleaning bounds.
func (b Bounds) Validate() error {
	return validateStruct(b)
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
