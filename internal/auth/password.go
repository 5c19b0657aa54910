package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/cyppan/simple-site-analytics/internal/config"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the minimum allowed password length
	MinPasswordLength = 8
)

// ErrInvalidCredentials is returned for any username or password mismatch
var ErrInvalidCredentials = errors.New("invalid username or password")

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a password with a hash
func VerifyPassword(password, hash string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if hash == "" {
		return errors.New("hash cannot be empty")
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

// CheckCredentials verifies a login against the configured dashboard user.
// The bcrypt comparison always runs so a wrong username costs the same as a wrong password.
func CheckCredentials(cfg config.AuthConfig, username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
	if password == "" {
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(password, cfg.PasswordHash); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !userOK {
		return ErrInvalidCredentials
	}
	return nil
}

// ValidatePasswordStrength checks password strength and returns recommendations
func ValidatePasswordStrength(password string) (isStrong bool, warnings []string) {
	if len(password) < MinPasswordLength {
		warnings = append(warnings, fmt.Sprintf("Password should be at least %d characters", MinPasswordLength))
		return false, warnings
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	criteria := 0
	for _, c := range []struct {
		ok      bool
		warning string
	}{
		{hasLower, "Consider adding lowercase letters"},
		{hasUpper, "Consider adding uppercase letters"},
		{hasDigit, "Consider adding numbers"},
		{hasSpecial, "Consider adding special characters (!@#$%^&*)"},
	} {
		if c.ok {
			criteria++
		} else {
			warnings = append(warnings, c.warning)
		}
	}

	if len(password) < 12 {
		warnings = append(warnings, "For better security, use at least 12 characters")
	}

	// Strong means three of the four character classes and at least 12 characters
	return criteria >= 3 && len(password) >= 12, warnings
}
