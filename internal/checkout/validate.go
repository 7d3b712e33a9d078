package checkout

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/fjod/go_cart/storefront/internal/domain"
	validatorv10 "github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NewValidator returns a validator that knows the "phone" tag and the card OTP rule.
// It panics if the tag cannot be registered, which only happens on a programming error.
func NewValidator() *validatorv10.Validate {
	v := validatorv10.New()
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		panic(fmt.Sprintf("register phone validation: %v", err))
	}
	v.RegisterStructValidation(paymentStructValidation, domain.PaymentDetails{})
	return v
}

func validatePhone(fl validatorv10.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// paymentStructValidation is the completeness predicate for auto-submitted card
// payments: the form is only complete once the six-digit OTP is present.
func paymentStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(domain.PaymentDetails)
	if p.Method == domain.PaymentMethodCard && len(p.OTP) != 6 {
		sl.ReportError(p.OTP, "otp", "OTP", "otp_complete", "")
	}
}

func validate(v *validatorv10.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.StructNamespace()] = message(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "numeric":
		return "must contain digits only"
	case "otp_complete":
		return "a six-digit code is required for card payments"
	default:
		return fe.Error()
	}
}
