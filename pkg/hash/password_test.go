package hash

import (
	"errors"
	"strings"
	"testing"
)

func TestPassword(t *testing.T) {
	tests := []struct {
		name    string
		plain   string
		wantErr error
	}{
		{name: "valid password", plain: "SecurePass123!"},
		{name: "minimum length password", plain: "Pass123!"},
		{name: "password too short", plain: "short", wantErr: ErrTooShort},
		{name: "empty password", plain: "", wantErr: ErrTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed, err := Password(tt.plain)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Password() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Errorf("Password() unexpected error = %v", err)
				return
			}
			if hashed == "" || hashed == tt.plain {
				t.Error("Password() returned empty or unhashed input")
			}
			if !strings.HasPrefix(hashed, "$2a$12$") {
				t.Errorf("Password() invalid bcrypt format, got = %s", hashed[:10])
			}
		})
	}
}

func TestPasswordSalted(t *testing.T) {
	plain := "SamePassword123!"

	first, err := Password(plain)
	if err != nil {
		t.Fatalf("Password() error = %v", err)
	}
	second, err := Password(plain)
	if err != nil {
		t.Fatalf("Password() error = %v", err)
	}

	if first == second {
		t.Error("Password() should salt, same input must not repeat a hash")
	}
}

func TestVerify(t *testing.T) {
	plain := "MySecurePassword123!"
	hashed, err := Password(plain)
	if err != nil {
		t.Fatalf("failed to generate hash: %v", err)
	}

	if err := Verify(hashed, plain); err != nil {
		t.Errorf("Verify() unexpected error = %v", err)
	}
	if err := Verify(hashed, "WrongPassword"); err == nil {
		t.Error("Verify() expected error for wrong password")
	}
	if err := Verify(hashed, strings.ToUpper(plain)); err == nil {
		t.Error("Verify() expected error for case mismatch")
	}
}
