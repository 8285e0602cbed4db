package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTManager_GenerateVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject = %q, want alice", claims.Subject)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other, _ := NewJWTManager("other", time.Hour).Generate("alice")
	expired, _ := NewJWTManager("secret", -time.Minute).Generate("alice")
	noSubject, _ := m.Generate("")

	for name, token := range map[string]string{
		"garbage":    "not-a-jwt",
		"wrong key":  other,
		"expired":    expired,
		"no subject": noSubject,
	} {
		if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr error
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "bearer lowercase", header: "bearer abc", want: "abc"},
		{name: "query", query: "?token=xyz", want: "xyz"},
		{name: "header wins", header: "Bearer abc", query: "?token=xyz", want: "abc"},
		{name: "bad scheme", header: "Basic abc", wantErr: ErrInvalidToken},
		{name: "missing", wantErr: ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := TokenFromRequest(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}
