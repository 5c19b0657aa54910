package auth

import (
	"errors"
	"testing"

	"github.com/cyppan/simple-site-analytics/internal/config"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("SecurePass123!")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "" {
		t.Error("Hash should not be empty")
	}

	if _, err := HashPassword(""); err == nil {
		t.Error("HashPassword should fail for empty password")
	}
	if _, err := HashPassword("short"); err == nil {
		t.Error("HashPassword should fail for short password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "SecurePass123!"
	hash, _ := HashPassword(password)

	if err := VerifyPassword(password, hash); err != nil {
		t.Errorf("VerifyPassword failed for correct password: %v", err)
	}
	if err := VerifyPassword("WrongPass", hash); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("VerifyPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}
	if err := VerifyPassword("", hash); err == nil {
		t.Error("VerifyPassword should fail for empty password")
	}
	if err := VerifyPassword(password, ""); err == nil {
		t.Error("VerifyPassword should fail for empty hash")
	}
}

func TestCheckCredentials(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.AuthConfig{Username: "admin", PasswordHash: hash}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"valid", "admin", "correct horse", false},
		{"wrong password", "admin", "battery staple", true},
		{"wrong username", "root", "correct horse", true},
		{"empty password", "admin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCredentials(cfg, tt.username, tt.password)
			if tt.wantErr && !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("CheckCredentials() = %v, want ErrInvalidCredentials", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("CheckCredentials() unexpected error: %v", err)
			}
		})
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		wantStrong bool
	}{
		{"strong password", "SecurePass123!@#", true},
		{"too short", "Abc1!", false},
		{"no special", "SecurePass123", true},
		{"no digits", "SecurePassword!", true},
		{"lowercase only", "securepassword", false},
		{"short with 3 classes", "SecPass1!", false},
		{"uppercase only", "SECUREPASSWORD", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strong, warnings := ValidatePasswordStrength(tt.password)
			if strong != tt.wantStrong {
				t.Errorf("ValidatePasswordStrength(%q) strong = %v, want %v (warnings: %v)",
					tt.password, strong, tt.wantStrong, warnings)
			}
			if !strong && len(warnings) == 0 {
				t.Error("weak passwords should come with warnings")
			}
		})
	}
}
