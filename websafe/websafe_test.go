package websafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	var v Validator
	cases := []struct {
		name string
		url  string
		want error
	}{
		{"https ok", "https://www.ris.bka.gv.at/GeltendeFassung.wxe", nil},
		{"http ok", "http://example.com/statute", nil},
		{"ftp rejected", "ftp://example.com/file", ErrUnsafeScheme},
		{"file rejected", "file:///etc/passwd", ErrUnsafeScheme},
		{"loopback rejected", "http://127.0.0.1:8080/", ErrSSRF},
		{"rfc1918 rejected", "http://192.168.1.10/", ErrSSRF},
		{"ten-block rejected", "http://10.0.0.5/", ErrSSRF},
		{"link-local rejected", "http://169.254.169.254/latest/meta-data", ErrSSRF},
		{"ipv6 loopback rejected", "http://[::1]/", ErrSSRF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := v.Validate(c.url)
			if c.want == nil {
				if err != nil {
					t.Errorf("Validate(%q) = %v, want nil", c.url, err)
				}
				return
			}
			if !errors.Is(err, c.want) {
				t.Errorf("Validate(%q) = %v, want %v", c.url, err, c.want)
			}
		})
	}
}

func TestValidate_NoHost(t *testing.T) {
	var v Validator
	if err := v.Validate("https:///path-only"); err == nil {
		t.Error("hostless URL accepted")
	}
}

func TestValidate_AllowPrivate(t *testing.T) {
	v := Validator{AllowPrivate: true}
	if err := v.Validate("http://127.0.0.1:9999/mirror"); err != nil {
		t.Errorf("AllowPrivate loopback: %v", err)
	}
	if err := v.Validate("ftp://127.0.0.1/"); !errors.Is(err, ErrUnsafeScheme) {
		t.Error("AllowPrivate must not relax the scheme check")
	}
}

func TestReadBounded(t *testing.T) {
	data, err := ReadBounded(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Errorf("got %q, %v", data, err)
	}

	if _, err := ReadBounded(strings.NewReader(strings.Repeat("x", 11)), 10); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("got %v, want ErrBodyTooLarge", err)
	}

	// Exactly at the bound is fine.
	if _, err := ReadBounded(strings.NewReader(strings.Repeat("x", 10)), 10); err != nil {
		t.Errorf("exact bound: %v", err)
	}
}
