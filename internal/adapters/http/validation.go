package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type validationError struct {
	Fields map[string]string
}

func (e *validationError) Error() string {
	return "request validation failed"
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = fmt.Sprintf("%s is required", fe.Field())
		case "max":
			fields[fe.Field()] = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		default:
			fields[fe.Field()] = fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag())
		}
	}
	return &validationError{Fields: fields}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
