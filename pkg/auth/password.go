package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

const bcryptCost = 12

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordPolicy enforces the account password rules: at least
// 8 characters with one upper, one lower, and one digit.
func ValidatePasswordPolicy(password string) error {
	var b util.ValidationBuilder
	b.Add(len(password) >= 8, "password must be at least 8 characters")

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	b.Add(upper, "password must contain an uppercase letter")
	b.Add(lower, "password must contain a lowercase letter")
	b.Add(digit, "password must contain a digit")
	return b.Build()
}
