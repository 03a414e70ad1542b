// Package validation turns struct tag failures into field-level errors that
// the server renders one entry per field.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Error struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Errors struct {
	Errors []Error `json:"errors"`
}

func (v *Errors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Field+": "+e.Code)
	}
	return "validation error: " + strings.Join(parts, ", ")
}

// Add appends a field error and returns v for chaining.
func (v *Errors) Add(field, code, message string) *Errors {
	v.Errors = append(v.Errors, Error{Field: field, Code: code, Message: message})
	return v
}

// Err returns nil when no errors were collected.
func (v *Errors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func New(field, code, message string) error {
	return (&Errors{}).Add(field, code, message)
}

// As extracts *Errors from err.
func As(err error) (*Errors, bool) {
	var vErr *Errors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr, true
	}
	return nil, false
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]{1,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validator exposes the shared instance for callers that register extra rules.
func Validator() *validator.Validate { return validate }

// Struct validates s and converts failures into *Errors.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &Errors{}
	for _, fe := range fieldErrs {
		out.Add(fieldPath(fe), fe.Tag(), message(fe))
	}
	return out
}

// Var validates a single value against tag, reporting it under field.
func Var(field string, value any, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &Errors{}
	for _, fe := range fieldErrs {
		out.Add(field, fe.Tag(), message(fe))
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email"
	case "username":
		return "must start with a letter and contain only letters, digits, dot, underscore or dash"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
