package errors

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("max_index_size_mb", "-5", "must not be negative")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}

	expected := `invalid max_index_size_mb "-5": must not be negative`
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestValidationErrorNoValue(t *testing.T) {
	err := NewValidationError("queries", "", "at least one query is required")
	expected := "invalid queries: at least one query is required"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}

	var ve *ValidationError
	if !errors.As(error(err), &ve) || ve.Field != "queries" {
		t.Error("errors.As should extract ValidationError")
	}
}

func TestCapabilityError(t *testing.T) {
	err := NewCapabilityError("hypopg", "Install it with CREATE EXTENSION hypopg.", nil)

	if !errors.Is(err, ErrExtensionMissing) {
		t.Error("CapabilityError without explicit cause should match ErrExtensionMissing")
	}
	if errors.Is(err, ErrVersionUnsupported) {
		t.Error("CapabilityError should not match ErrVersionUnsupported")
	}

	expected := "hypopg: required extension missing. Install it with CREATE EXTENSION hypopg."
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestCapabilityErrorVersion(t *testing.T) {
	err := NewCapabilityError("generic_plan", "", ErrVersionUnsupported)
	if !errors.Is(err, ErrVersionUnsupported) {
		t.Error("expected ErrVersionUnsupported")
	}
	if err.Error() != "generic_plan: unsupported server version" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestQueryError(t *testing.T) {
	err := NewQueryError("SELECT * FROM orders", errors.New("relation does not exist"))

	expected := "query failed [SELECT * FROM orders]: relation does not exist"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestQueryErrorLongQuery(t *testing.T) {
	longQuery := "SELECT " + string(make([]byte, 200))
	err := NewQueryError(longQuery, errors.New("error"))

	// Query should be truncated with ...
	if len(err.Query) != 103 { // 100 + "..."
		t.Errorf("expected truncated query length 103, got %d", len(err.Query))
	}
	if err.Query[len(err.Query)-3:] != "..." {
		t.Error("expected truncated query to end with ...")
	}
}

func TestResourceCleanupError(t *testing.T) {
	cause := errors.New("server closed the connection")
	err := NewResourceCleanupError("abc", "CREATE INDEX ON orders USING btree (status)", cause)

	if !errors.Is(err, ErrCleanupFailed) {
		t.Error("ResourceCleanupError should match ErrCleanupFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("ResourceCleanupError should match its cause")
	}

	expected := "session abc: drop hypothetical index CREATE INDEX ON orders USING btree (status): server closed the connection"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestMultiError(t *testing.T) {
	me := &MultiError{}

	if me.ErrorOrNil() != nil {
		t.Error("empty MultiError should return nil")
	}

	me.Add(nil) // Should be ignored
	if me.ErrorOrNil() != nil {
		t.Error("MultiError with only nil should return nil")
	}

	err1 := errors.New("error 1")
	err2 := errors.New("error 2")

	me.Add(err1)
	me.Add(err2)

	if len(me.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(me.Errors))
	}

	if !errors.Is(me, err1) || !errors.Is(me, err2) {
		t.Error("MultiError should match every collected error")
	}

	expected := "2 errors occurred; first: error 1"
	if me.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, me.Error())
	}
}

func TestMultiErrorSingle(t *testing.T) {
	me := &MultiError{}
	err := errors.New("single error")
	me.Add(err)

	if me.Error() != "single error" {
		t.Errorf("single error should return just the error message")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrTimeout,
		ErrConnectionFailed,
		ErrInvalidInput,
		ErrExtensionMissing,
		ErrVersionUnsupported,
		ErrCleanupFailed,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}

func TestMultiErrorEmpty(t *testing.T) {
	me := &MultiError{}
	if me.Error() != "no errors" {
		t.Errorf("empty MultiError.Error() should return 'no errors'")
	}
	if len(me.Unwrap()) != 0 {
		t.Error("empty MultiError.Unwrap() should return nothing")
	}
}
