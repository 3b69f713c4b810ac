package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ValidatePassword enforces the password policy: at least 8 characters with
// a letter, a digit and a symbol.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	var letter, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !letter || !digit || !symbol {
		return fmt.Errorf("password must contain a letter, a digit and a symbol")
	}
	return nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %s", err)
	}
	return string(b), nil
}

// isBcrypt reports whether stored is a bcrypt hash rather than a legacy
// plaintext password.
func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// VerifyPassword checks password against the stored credential. Legacy
// plaintext credentials compare through a throwaway low-cost bcrypt hash so
// both branches cost a bcrypt verify and plaintext accounts are not
// distinguishable by response time; needsRehash is true for them so the
// caller can migrate the account to bcrypt on successful login.
func VerifyPassword(stored, password string) (ok, needsRehash bool) {
	if isBcrypt(stored) {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		return err == nil, false
	}
	throwaway, err := bcrypt.GenerateFromPassword([]byte(stored), bcrypt.MinCost)
	if err != nil {
		return false, false
	}
	match := bcrypt.CompareHashAndPassword(throwaway, []byte(password)) == nil
	return match, match
}
