package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"ytsheets/sheets"
	"ytsheets/youtube"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is wrapped by every ValidationError.
var ErrInvalidConfig = errors.New("pipeline: invalid run config")

// ValidationError reports the first invalid RunConfig field.
type ValidationError struct {
	// Field is the JSON path of the field, e.g. "filter.max_results".
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

var (
	validateOnce sync.Once
	validate     *validator.Validate
	validateErr  error
)

func validatorInstance() (*validator.Validate, error) {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		validateErr = errors.Join(
			v.RegisterValidation("channelref", func(fl validator.FieldLevel) bool {
				_, err := youtube.ParseChannelRef(fl.Field().String())
				return err == nil
			}),
			v.RegisterValidation("tabname", func(fl validator.FieldLevel) bool {
				return sheets.ValidateTabName(fl.Field().String()) == nil
			}),
		)
		if validateErr != nil {
			validateErr = fmt.Errorf("pipeline: register validators: %w", validateErr)
		}
		validate = v
	})
	return validate, validateErr
}

// Validate checks c before any I/O.
func (c RunConfig) Validate() error {
	v, err := validatorInstance()
	if err != nil {
		return err
	}
	err = v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "config", Reason: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fieldPath(fe), Reason: reason(fe)}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "needs at least " + fe.Param() + " entry"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must not be negative"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "channelref":
		return fmt.Sprintf("%q is not a channel ID, handle or channel URL", fe.Value())
	case "tabname":
		if err := sheets.ValidateTabName(fmt.Sprint(fe.Value())); err != nil {
			return err.Error()
		}
		return "is not a valid tab name"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
