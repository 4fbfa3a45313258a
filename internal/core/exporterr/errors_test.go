package exporterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&TransportError{Endpoint: "u", Status: 500}, "upstream_failed"},
		{fmt.Errorf("page 2: %w", &ParseError{Endpoint: "u", Err: errors.New("eof")}), "upstream_failed"},
		{&FieldResolutionError{Field: "FOO"}, "unknown_field"},
		{&PreconditionError{Reason: "no columns"}, "bad_request"},
		{&DeliveryError{Recipient: "a@b", Err: &TransportError{}}, "delivery_failed"},
		{fmt.Errorf("email: %w", ErrNotConfigured), "not_configured"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestFieldResolutionError_NamesField(t *testing.T) {
	err := &FieldResolutionError{Field: "FOO"}
	if !strings.Contains(err.Error(), "FOO") {
		t.Fatalf("error %q should name the field", err.Error())
	}
}

func TestTransportError_NoResponse(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &TransportError{Endpoint: "http://x", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("TransportError must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "refused") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
