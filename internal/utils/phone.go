package utils

import (
	"regexp"
	"strings"
)

var (
	nonDigits = regexp.MustCompile(`\D`)

	// Mobile numbers for the three markets served.
	phoneBR = regexp.MustCompile(`^55[1-9]{2}9?\d{8}$`)
	phonePY = regexp.MustCompile(`^5959\d{8}$`)
	phoneAR = regexp.MustCompile(`^549\d{10,11}$`)
)

// NormalizePhone strips everything except digits, including a WhatsApp JID suffix.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if i := strings.Index(phone, "@"); i >= 0 {
		phone = phone[:i]
	}
	if i := strings.Index(phone, ":"); i >= 0 {
		phone = phone[:i]
	}
	return nonDigits.ReplaceAllString(phone, "")
}

func ValidatePhoneBR(phone string) bool {
	return phoneBR.MatchString(NormalizePhone(phone))
}

func ValidatePhonePY(phone string) bool {
	return phonePY.MatchString(NormalizePhone(phone))
}

func ValidatePhoneAR(phone string) bool {
	return phoneAR.MatchString(NormalizePhone(phone))
}

// ValidatePhone reports whether phone is a mobile number of a supported country (BR, PY, AR).
func ValidatePhone(phone string) bool {
	return ValidatePhoneBR(phone) || ValidatePhonePY(phone) || ValidatePhoneAR(phone)
}
