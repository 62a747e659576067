package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"twitter-social/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
}

type createTweetRequest struct {
	Reference string `json:"reference" validate:"required"`
	Author    string `json:"author" validate:"required,mongodb"`
}

type likeRequest struct {
	UserID string `json:"userId" validate:"required,mongodb"`
}

type commentRequest struct {
	Text   string `json:"text" validate:"required,max=280"`
	UserID string `json:"userId" validate:"required,mongodb"`
}

// decode reads a JSON body into dst and validates it. Failures are returned
// as validation errors carrying a client-facing message.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &model.Error{Kind: model.ErrValidation, Message: "Invalid request body.", Cause: err}
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &model.Error{Kind: model.ErrValidation, Message: describe(fieldErrs[0]), Cause: err}
		}
		return &model.Error{Kind: model.ErrValidation, Message: "Invalid request body.", Cause: err}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "email":
		return fmt.Sprintf("%q must be a valid email", fe.Field())
	case "url":
		return fmt.Sprintf("%q must be a valid uri", fe.Field())
	case "mongodb":
		return fmt.Sprintf("%q must be a valid id", fe.Field())
	case "max":
		return fmt.Sprintf("%q length must be less than or equal to %s characters long", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%q is invalid", fe.Field())
	}
}
