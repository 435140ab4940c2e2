package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var (
	validate    = validator.New()
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

// IsValidEmail reports whether email is an RFC-shaped address.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	return validate.Var(email, "required,email") == nil
}

// IsValidE164 reports whether phoneNumber looks like +<country><number>.
func IsValidE164(phoneNumber string) bool {
	return ValidatePhoneNumber(phoneNumber) == nil
}

// ValidatePhoneNumber checks the E.164 shape first, then asks libphonenumber
// whether the number has a possible length for its country.
func ValidatePhoneNumber(phoneNumber string) error {
	if !e164Pattern.MatchString(phoneNumber) {
		return fmt.Errorf("phone number %q is not in E.164 format", phoneNumber)
	}
	p, err := libphonenumber.Parse(phoneNumber, "")
	if err != nil {
		return err
	}
	if !libphonenumber.IsPossibleNumber(p) {
		return fmt.Errorf("phone number %q is not possible for its country code", phoneNumber)
	}
	return nil
}

// ValidateStruct checks v against its `validate` tags.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		errorResponse["request"] = err.Error()
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
