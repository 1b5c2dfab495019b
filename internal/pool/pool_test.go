package pool

import (
	"errors"
	"strings"
	"testing"
)

func TestTarget_DSN(t *testing.T) {
	target := Target{Host: "db", Port: 5432, User: "abc", Password: "p@ss word", DBName: "musicbrainz_db"}

	dsn := target.DSN()
	if !strings.HasPrefix(dsn, "postgres://abc:") {
		t.Errorf("DSN() = %q, want postgres://abc:... prefix", dsn)
	}
	if !strings.Contains(dsn, "@db:5432/musicbrainz_db") {
		t.Errorf("DSN() = %q, want host, port and database", dsn)
	}
	if !strings.HasSuffix(dsn, "?sslmode=disable") {
		t.Errorf("DSN() = %q, want default sslmode=disable", dsn)
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Errorf("DSN() = %q, password must be escaped", dsn)
	}
}

func TestTarget_StringRedactsPassword(t *testing.T) {
	target := Target{Host: "replica", Port: 5433, User: "reader", Password: "secret", DBName: "mb"}

	s := target.String()
	if strings.Contains(s, "secret") {
		t.Errorf("String() = %q, leaks password", s)
	}
	if s != "reader@replica:5433/mb" {
		t.Errorf("String() = %q, want %q", s, "reader@replica:5433/mb")
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"default", false},
		{"replica", false},
		{"eu-west_2", false},
		{"a", false},
		{"", true},
		{"Replica", true},
		{"-replica", true},
		{"replica-", true},
		{"re plica", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPoolKey) {
				t.Errorf("ValidateKey(%q) error = %v, want ErrInvalidPoolKey", tt.key, err)
			}
		})
	}
}

func TestOpen_LazyConnect(t *testing.T) {
	// Given a target that is not reachable
	target := Target{Host: "127.0.0.1", Port: 1, User: "nobody", DBName: "none"}

	// When the pool is opened
	p, err := Open("replica", target, DefaultOptions())

	// Then no connection is attempted yet
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p.Close()

	if p.Key() != "replica" {
		t.Errorf("Key() = %q, want %q", p.Key(), "replica")
	}
	if p.Target().Host != "127.0.0.1" {
		t.Errorf("Target().Host = %q, want %q", p.Target().Host, "127.0.0.1")
	}
	if got := p.DB().Stats().MaxOpenConnections; got != 10 {
		t.Errorf("MaxOpenConnections = %d, want 10", got)
	}
}

func TestOpen_InvalidKey(t *testing.T) {
	_, err := Open("Bad Key", Target{Host: "db", Port: 5432}, DefaultOptions())
	if !errors.Is(err, ErrInvalidPoolKey) {
		t.Errorf("Open() error = %v, want ErrInvalidPoolKey", err)
	}
}
