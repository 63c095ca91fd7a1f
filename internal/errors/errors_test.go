package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("driver: bad connection")
	err := Wrap(CodeStorageFailure, cause, "load agent failed")

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
	if !stdErrors.Is(fmt.Errorf("outer: %w", err), New(CodeStorageFailure, "")) {
		t.Fatal("expected code comparison through wrapping")
	}
	if !RetryableError(err) || !ShouldAlert(err) {
		t.Fatal("storage failures should be retryable and alerting")
	}
}

func TestToResultHidesCause(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeStorageFailure, stdErrors.New("dial tcp 10.0.0.3:3306: refused"), "storage unavailable")
	res := ToResult(err)
	if res.Code != CodeStorageFailure || res.Message != "storage unavailable" || !res.Retryable {
		t.Fatalf("unexpected result %+v", res)
	}

	res = ToResult(stdErrors.New("raw failure with internals"))
	if res.Code != CodeUnknown || res.Message != "unknown error" {
		t.Fatalf("unexpected result for plain error %+v", res)
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_ONLY_CODE"
	Register(code, Attributes{Message: "test only", Severity: SeverityCritical, Alert: true})

	err := New(code, "")
	if err.Message() != "test only" {
		t.Fatalf("expected registered default message, got %q", err.Message())
	}
	if err.Severity() != SeverityCritical || !err.ShouldAlert() || err.Retryable() {
		t.Fatalf("unexpected attributes for %s", code)
	}
	if New(code, "", WithRetryable(true)).Retryable() != true {
		t.Fatal("option should override registered retryable flag")
	}
}
