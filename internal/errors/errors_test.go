// Package errors provides unit tests for the error taxonomy.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"testing"
)

// TestAppErrorFormatting tests the rendered message with and without a cause.
func TestAppErrorFormatting(t *testing.T) {
	plain := New(ErrStorage, "put failed")
	if plain.Error() != "[STORAGE_ERROR] put failed" {
		t.Errorf("Unexpected message: %q", plain.Error())
	}

	wrapped := Wrap(ErrStorage, "put failed", stderrors.New("disk full"))
	if wrapped.Error() != "[STORAGE_ERROR] put failed: disk full" {
		t.Errorf("Unexpected wrapped message: %q", wrapped.Error())
	}
}

// TestIsMatchesThroughWrapping tests code detection on a wrapped chain.
func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := Connectivity("refused", nil)
	outer := fmt.Errorf("replay failed: %w", inner)

	if !Is(outer, ErrConnectivity) {
		t.Error("Expected code match through fmt.Errorf wrapping")
	}
	if Is(outer, ErrTimeout) {
		t.Error("Expected no match for a different code")
	}
	if Is(stderrors.New("bare"), ErrConnectivity) {
		t.Error("Expected no match for an untagged error")
	}
}

// TestCodeDefaultsToInternal tests the untagged fallback.
func TestCodeDefaultsToInternal(t *testing.T) {
	if Code(stderrors.New("bare")) != ErrInternal {
		t.Errorf("Expected internal code for untagged error, got %s", Code(stderrors.New("bare")))
	}
	if Code(HTTPStatus(500, "boom")) != ErrHTTPStatus {
		t.Errorf("Expected HTTP status code preserved")
	}
}

// TestClassifyStructural tests that transport failures classify by error type,
// not by message text.
func TestClassifyStructural(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, ErrConnectivity},
		{"op", &net.OpError{Op: "dial", Err: stderrors.New("connection refused")}, ErrConnectivity},
		{"url", &url.Error{Op: "Get", URL: "http://x", Err: stderrors.New("EOF")}, ErrConnectivity},
		{"unknown", stderrors.New("something else"), ErrNetwork},
	}

	for _, tc := range cases {
		got := Classify(tc.err)
		if tc.err == nil {
			if got != nil {
				t.Errorf("%s: expected nil classification", tc.name)
			}
			continue
		}
		if got.Code != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got.Code)
		}
	}
}

// TestClassifyMisleadingMessage tests that an error merely mentioning the word
// "network" does not classify as connectivity.
func TestClassifyMisleadingMessage(t *testing.T) {
	err := stderrors.New("validation failed: network_name must be unique")
	if IsConnectivity(err) {
		t.Error("Expected message text to be ignored by classification")
	}
}

// TestClassifyPreservesTaggedErrors tests that already-tagged errors pass
// through untouched.
func TestClassifyPreservesTaggedErrors(t *testing.T) {
	tagged := HTTPStatus(502, "bad gateway")
	got := Classify(tagged)
	if got != tagged {
		t.Error("Expected tagged error returned as-is")
	}
	if IsConnectivity(tagged) {
		t.Error("Expected HTTP status error to stay non-connectivity")
	}
}

// TestIsConnectivityCoversTimeouts tests that timeouts halt replay the same
// way hard connectivity failures do.
func TestIsConnectivityCoversTimeouts(t *testing.T) {
	if !IsConnectivity(Timeout("slow", nil)) {
		t.Error("Expected timeout to count as connectivity for replay purposes")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("Expected deadline exceeded to classify as timeout")
	}
}

// TestTokenInvalid tests push-token pruning detection.
func TestTokenInvalid(t *testing.T) {
	if !IsTokenInvalid(TokenInvalid("tok-1")) {
		t.Error("Expected invalid-token detection")
	}
	if IsTokenInvalid(Connectivity("down", nil)) {
		t.Error("Expected transient failure to keep the token")
	}
}
