package utils

import (
	"regexp"
	"strings"
)

const countryCode = "254"

var mobilePattern = regexp.MustCompile(`^\+254[17]\d{8}$`)

// NormalizePhone rewrites a subscriber number into +254 international form.
// A leading trunk 0 becomes +254, bare digits get a +, and numbers already
// carrying a + are returned as-is.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "0"):
		return "+" + countryCode + phone[1:]
	case phone == "":
		return phone
	default:
		return "+" + phone
	}
}

// ValidMobile reports whether phone is a normalized Safaricom/Airtel mobile number.
func ValidMobile(phone string) bool {
	return mobilePattern.MatchString(phone)
}
