package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	mobileRegex  = regexp.MustCompile(`^\d{10}$`)
	vehicleRegex = regexp.MustCompile(`^[A-Z0-9\-\s]{2,10}$`)
)

func init() {
	validate = validator.New()

	validate.RegisterValidation("vehicle_number", validateVehicleNumber)
	validate.RegisterValidation("mobile_number", validateMobileNumber)
	validate.RegisterValidation("language_code", validateLanguageCode)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateVehicleNumber(fl validator.FieldLevel) bool {
	return IsValidVehicleNumber(fl.Field().String())
}

func validateMobileNumber(fl validator.FieldLevel) bool {
	return IsValidMobileNumber(fl.Field().String())
}

func validateLanguageCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	return code == "" || code == "en" || code == "hi"
}

// NormalizeVehicleNumber maps any user-entered plate string to the canonical
// key: trimmed and uppercased. Lookups and storage only ever see this form.
func NormalizeVehicleNumber(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

func IsValidVehicleNumber(plate string) bool {
	return vehicleRegex.MatchString(NormalizeVehicleNumber(plate))
}

// IsValidMobileNumber enforces the exact 10-digit rule; no country codes,
// no separators.
func IsValidMobileNumber(number string) bool {
	return mobileRegex.MatchString(number)
}

func SanitizeMessageContent(content string) string {
	return strings.TrimSpace(content)
}

// IsValidMessageContent accepts content that survives trimming and fits the
// length bound.
func IsValidMessageContent(content string) bool {
	trimmed := SanitizeMessageContent(content)
	return trimmed != "" && len(trimmed) <= MaxMessageLength
}
