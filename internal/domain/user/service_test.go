package user

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/Anvoria/tradeauth/internal/domain/auth"
	"github.com/Anvoria/tradeauth/internal/utils"
)

func setupTestDB(t *testing.T) *gorm.DB {
	return utils.SetupTestDB(t, &User{})
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewRepository(setupTestDB(t)))

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr error
	}{
		{
			name: "successful registration",
			req:  RegisterRequest{TenantID: "tenant-a", Identifier: "Trader@Example.com", Secret: "s3cret-pass"},
		},
		{
			name:    "duplicate identifier differs only in case",
			req:     RegisterRequest{TenantID: "tenant-a", Identifier: "trader@example.com", Secret: "other"},
			wantErr: ErrIdentifierExists,
		},
		{
			name: "same identifier in another tenant",
			req:  RegisterRequest{TenantID: "tenant-b", Identifier: "trader@example.com", Secret: "other"},
		},
		{
			name:    "missing secret",
			req:     RegisterRequest{TenantID: "tenant-a", Identifier: "x"},
			wantErr: ErrMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := service.Register(ctx, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() unexpected error: %v", err)
			}
			if u.SecretHash == tt.req.Secret || !strings.HasPrefix(u.SecretHash, "$argon2id$") {
				t.Errorf("secret stored unhashed: %q", u.SecretHash)
			}
			if u.Identifier != strings.ToLower(tt.req.Identifier) {
				t.Errorf("identifier = %q, want normalized", u.Identifier)
			}
		})
	}
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewRepository(setupTestDB(t)))

	registered, err := service.Register(ctx, RegisterRequest{TenantID: "tenant-a", Identifier: "alice", Secret: "correct", Verified: true})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	p, err := service.Verify(ctx, " ALICE ", "correct", "tenant-a")
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if p.UserID != registered.ID.String() || p.TenantID != "tenant-a" || !p.Verified {
		t.Errorf("Verify() principal = %+v", p)
	}

	invalid := []struct {
		name, identifier, secret, tenant string
	}{
		{"wrong secret", "alice", "wrong", "tenant-a"},
		{"unknown user", "bob", "correct", "tenant-a"},
		{"other tenant", "alice", "correct", "tenant-b"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Verify(ctx, tt.identifier, tt.secret, tt.tenant); !errors.Is(err, auth.ErrInvalidCredentials) {
				t.Fatalf("Verify() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}

	t.Run("disabled user", func(t *testing.T) {
		if err := service.Disable(ctx, "tenant-a", "Alice"); err != nil {
			t.Fatalf("Disable() error: %v", err)
		}
		if _, err := service.Verify(ctx, "alice", "correct", "tenant-a"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("Verify() error = %v, want ErrInvalidCredentials", err)
		}
		if err := service.Disable(ctx, "tenant-a", "nobody"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Disable() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSecretHash(t *testing.T) {
	hash, err := HashSecret("pa55word")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}
	other, _ := HashSecret("pa55word")
	if hash == other {
		t.Error("hashes must be salted")
	}

	if !VerifySecret("pa55word", hash) {
		t.Error("VerifySecret() rejected the right secret")
	}
	if VerifySecret("pa55wordX", hash) {
		t.Error("VerifySecret() accepted a wrong secret")
	}

	for _, bad := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=1$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=1,t=1,p=1$!!$a2V5"} {
		if VerifySecret("x", bad) {
			t.Errorf("VerifySecret() accepted malformed hash %q", bad)
		}
	}
}
