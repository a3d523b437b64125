package verifier

import (
	"context"
	"testing"
)

func TestParseSyntax(t *testing.T) {
	tests := []struct {
		email        string
		wantValid    bool
		wantUsername string
		wantDomain   string
	}{
		{"person@example.com", true, "person", "example.com"},
		{"first.last+tag@sub.example.co.uk", true, "first.last+tag", "sub.example.co.uk"},
		{"UPPER@Example.COM", true, "UPPER", "example.com"},
		{"no-at-sign", false, "no-at-sign", ""},
		{"@example.com", false, "@example.com", ""},
		{"person@", false, "person@", ""},
		{"two@@example.com", false, "two@", "example.com"},
		{"person@-leadinghyphen.com", false, "person", "-leadinghyphen.com"},
		{"person@nodot", false, "person", "nodot"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := parseSyntax(tt.email)
			if got.Valid != tt.wantValid {
				t.Fatalf("parseSyntax(%q).Valid = %v, want %v", tt.email, got.Valid, tt.wantValid)
			}
			if got.Username != tt.wantUsername {
				t.Fatalf("parseSyntax(%q).Username = %q, want %q", tt.email, got.Username, tt.wantUsername)
			}
			if got.Domain != tt.wantDomain {
				t.Fatalf("parseSyntax(%q).Domain = %q, want %q", tt.email, got.Domain, tt.wantDomain)
			}
		})
	}
}

type listChecker struct {
	disposable map[string]bool
	role       map[string]bool
	free       map[string]bool
}

func (l listChecker) IsDisposable(domain string) bool    { return l.disposable[domain] }
func (l listChecker) IsRoleAccount(username string) bool { return l.role[username] }
func (l listChecker) IsFreeDomain(domain string) bool    { return l.free[domain] }

func TestQuickCheckOne_InvalidSyntaxShortCircuits(t *testing.T) {
	w := New(0, Config{}, nil, nil)
	obj := w.quickCheckOne(context.Background(), "not-an-email")
	if obj.Syntax.Valid {
		t.Fatal("expected invalid syntax")
	}
	if obj.Reachable != "no" {
		t.Fatalf("expected reachable=no for invalid syntax, got %q", obj.Reachable)
	}
	if obj.HasMXRecords {
		t.Fatal("invalid emails must not reach MX resolution")
	}
}

func TestQuickCheckOne_DisposableSkipsMX(t *testing.T) {
	cfg := Config{
		Disposable: listChecker{disposable: map[string]bool{"trashmail.test": true}},
	}
	w := New(0, cfg, nil, nil)
	obj := w.quickCheckOne(context.Background(), "person@trashmail.test")
	if !obj.Disposable {
		t.Fatal("expected disposable flag")
	}
	if obj.Reachable != "no" {
		t.Fatalf("expected reachable=no for disposable domain, got %q", obj.Reachable)
	}
	if obj.HasMXRecords || len(obj.MX) != 0 {
		t.Fatal("disposable domains must not be resolved")
	}
}

func TestQuickCheckOne_RoleAndFreeFlags(t *testing.T) {
	cfg := Config{
		Disposable:   listChecker{disposable: map[string]bool{"gmail.test": true}},
		RoleAccounts: listChecker{role: map[string]bool{"admin": true}},
		FreeDomains:  listChecker{free: map[string]bool{"gmail.test": true}},
	}
	w := New(0, cfg, nil, nil)
	obj := w.quickCheckOne(context.Background(), "admin@gmail.test")
	if !obj.RoleAccount {
		t.Fatal("expected role_account flag")
	}
	if !obj.Free {
		t.Fatal("expected free flag")
	}
}
