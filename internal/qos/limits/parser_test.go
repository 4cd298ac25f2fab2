package limits

import (
	"errors"
	"testing"
)

func TestParseEntry(t *testing.T) {
	name, value, err := ParseEntry(" qos.work_mem_limit = 64MB ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "qos.work_mem_limit" || value != "64MB" {
		t.Errorf("got (%q, %q)", name, value)
	}
}

func TestParseEntryMalformed(t *testing.T) {
	if _, _, err := ParseEntry("no-equals-sign"); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := ParseEntry("=value"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestIsValidName(t *testing.T) {
	if !IsValidName("qos.work_mem_limit") {
		t.Error("expected qos.work_mem_limit to be valid")
	}
	if IsValidName("qos.bogus") {
		t.Error("expected qos.bogus to be invalid")
	}
	if IsValidName("search_path") {
		t.Error("expected non-qos name to be invalid")
	}
}

func TestApplyValueStrictRejectsUnrecognizedName(t *testing.T) {
	l := Empty()
	err := ApplyValue(&l, "qos.bogus", "1", true)
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestApplyValueStrictRejectsMalformedValue(t *testing.T) {
	l := Empty()
	err := ApplyValue(&l, "qos.cpu_core_limit", "not-a-number", true)
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestApplyValueNonStrictDropsMalformedButContinues(t *testing.T) {
	l := Empty()
	// Malformed individual entries are dropped by the caller (the catalog
	// reader), not by ApplyValue itself -- ApplyValue always reports the
	// error, non-strict callers just choose to ignore it and move on to the
	// next entry in the row.
	err := ApplyValue(&l, "qos.cpu_core_limit", "garbage", false)
	if err == nil {
		t.Fatal("expected error to be returned even in non-strict mode")
	}
	if l.CPUCoreLimit != Unset {
		t.Errorf("field must remain untouched on error, got %d", l.CPUCoreLimit)
	}
}

func TestApplyValueAllFields(t *testing.T) {
	l := Empty()
	entries := map[string]string{
		"qos.work_mem_limit":        "32MB",
		"qos.cpu_core_limit":        "4",
		"qos.max_concurrent_tx":     "10",
		"qos.max_concurrent_select": "5",
		"qos.max_concurrent_update": "2",
		"qos.max_concurrent_delete": "2",
		"qos.max_concurrent_insert": "3",
		"qos.work_mem_error_level":  "WARNING",
	}
	for name, value := range entries {
		if err := ApplyValue(&l, name, value, true); err != nil {
			t.Fatalf("ApplyValue(%q, %q): %v", name, value, err)
		}
	}
	if l.WorkMemBytes != 32*1024*1024 {
		t.Errorf("WorkMemBytes = %d", l.WorkMemBytes)
	}
	if l.CPUCoreLimit != 4 {
		t.Errorf("CPUCoreLimit = %d", l.CPUCoreLimit)
	}
	if l.MaxConcurrentTx != 10 || l.MaxConcurrentSelect != 5 || l.MaxConcurrentUpdate != 2 ||
		l.MaxConcurrentDelete != 2 || l.MaxConcurrentInsert != 3 {
		t.Errorf("concurrency limits mismatch: %+v", l)
	}
	if l.WorkMemErrorLevel != ErrorLevelWarning || !l.WorkMemErrorLevelSet() {
		t.Errorf("WorkMemErrorLevel = %v set=%v", l.WorkMemErrorLevel, l.WorkMemErrorLevelSet())
	}
}

func TestApplyValueEnabledValidatesButDoesNotStoreOnLimits(t *testing.T) {
	l := Empty()
	before := l
	if err := ApplyValue(&l, "qos.enabled", "true", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != before {
		t.Errorf("qos.enabled must not mutate Limits fields")
	}
	if err := ApplyValue(&l, "qos.enabled", "maybe", true); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestApplyValueNegativeOtherThanUnsetFails(t *testing.T) {
	l := Empty()
	if err := ApplyValue(&l, "qos.cpu_core_limit", "-2", true); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := ApplyValue(&l, "qos.cpu_core_limit", "-1", true); err != nil {
		t.Fatalf("unexpected error for -1 (unset): %v", err)
	}
	if l.CPUCoreLimit != Unset {
		t.Errorf("CPUCoreLimit = %d, want Unset", l.CPUCoreLimit)
	}
}

// TestApplyValueRoundTrip covers testable property 5 (§8) for a memory
// limit: applying the canonical RenderMemory rendering of a valid
// work_mem_limit in strict mode yields the same limit.
func TestApplyValueRoundTrip(t *testing.T) {
	l := Empty()
	if err := ApplyValue(&l, "qos.work_mem_limit", "96MB", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rendered := RenderMemory(l.WorkMemBytes)

	l2 := Empty()
	if err := ApplyValue(&l2, "qos.work_mem_limit", rendered, true); err != nil {
		t.Fatalf("unexpected error applying rendered value %q: %v", rendered, err)
	}
	if l2.WorkMemBytes != l.WorkMemBytes {
		t.Errorf("round trip mismatch: %d != %d", l2.WorkMemBytes, l.WorkMemBytes)
	}
}
