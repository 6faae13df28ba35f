package binder

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shishobooks/libby/pkg/formats"
)

var (
	dateRE     = regexp.MustCompile(`^\d{4}-(0[0-9]|1[0-2])-(0[0-9]|1[0-9]|2[0-9]|3[0-1])$`)
	syncCodeRE = regexp.MustCompile(`^[0-9]{8}$`)
)

// dateValidator ensures the value matches the format YYYY-MM-DD or the empty
// string.
func dateValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return dateRE.MatchString(value)
}

// syncCodeValidator accepts the 8 digit setup code shown by the Libby app.
func syncCodeValidator(fl validator.FieldLevel) bool {
	return syncCodeRE.MatchString(fl.Field().String())
}

// IsValidSyncCode reports whether code is a well formed setup code.
func IsValidSyncCode(code string) bool {
	return syncCodeRE.MatchString(code)
}

// suspendDaysValidator accepts 0 through 30, 60 and 90.
func suspendDaysValidator(fl validator.FieldLevel) bool {
	return IsValidSuspendDays(int(fl.Field().Int()))
}

// singleLockValidator accepts a format list with at most one locked format.
func singleLockValidator(fl validator.FieldLevel) bool {
	descs, ok := fl.Field().Interface().([]formats.Descriptor)
	return !ok || formats.CountLockedIn(descs) <= 1
}

func IsValidSuspendDays(days int) bool {
	return (days >= 0 && days <= 30) || days == 60 || days == 90
}
