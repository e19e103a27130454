package util

import (
	"reflect"
	"strings"
	"testing"
)

func TestExpandEnvUniversal(t *testing.T) {
	t.Setenv("OPTO_DIR", "/data/in")
	t.Setenv("OPTO_HOST", "db.local")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unix style", "$OPTO_DIR/invoices.csv", "/data/in/invoices.csv"},
		{"unix braces", "${OPTO_DIR}/invoices.csv", "/data/in/invoices.csv"},
		{"windows style", "%OPTO_DIR%\\invoices.csv", "/data/in\\invoices.csv"},
		{"mixed", "$OPTO_DIR on %OPTO_HOST%", "/data/in on db.local"},
		{"unknown unix", "$OPTO_MISSING/x", "/x"},
		{"unknown windows", "%OPTO_MISSING%/x", "/x"},
		{"no variables", "plain string", "plain string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvUniversal(tt.input); got != tt.want {
				t.Errorf("ExpandEnvUniversal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet(nil); got != "" {
		t.Errorf("Snippet(nil) = %q, want empty", got)
	}
	if got := Snippet([]byte("short")); got != "short" {
		t.Errorf("Snippet(short) = %q", got)
	}
	long := strings.Repeat("é", 300)
	got := Snippet([]byte(long))
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 203 {
		t.Errorf("Snippet(long) = %d runes, want 200 plus ellipsis", len([]rune(got)))
	}
}

func TestMaskCredentials(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"postgres uri", "postgres://app:s3cret@db:5432/opto", "postgres://app:********@db:5432/opto"},
		{"no password", "postgres://app@db/opto", "postgres://app@db/opto"},
		{"no userinfo", "postgres://db/opto", "postgres://db/opto"},
		{"not a uri", "host=db user=app password=x", "host=db user=app password=x"},
		{"password with at", "postgres://app:p@ss@db/opto", "postgres://app:********@db/opto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskCredentials(tt.input); got != tt.want {
				t.Errorf("MaskCredentials(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMaskSensitiveData(t *testing.T) {
	input := map[string]interface{}{
		"dsn":      "postgres://app:s3cret@db/opto",
		"password": "plain",
		"nested": map[string]interface{}{
			"api_token": "t0k3n",
			"table":     "invoice_line",
		},
		"budget": 100,
	}
	got := MaskSensitiveData(input)
	want := map[string]interface{}{
		"dsn":      "postgres://app:********@db/opto",
		"password": "********",
		"nested": map[string]interface{}{
			"api_token": "********",
			"table":     "invoice_line",
		},
		"budget": 100,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaskSensitiveData() = %v, want %v", got, want)
	}
	if input["password"] != "plain" {
		t.Error("input map must not be mutated")
	}
}

func TestMaskSensitiveDataNil(t *testing.T) {
	if got := MaskSensitiveData(nil); got != nil {
		t.Errorf("MaskSensitiveData(nil) = %v, want nil", got)
	}
}
