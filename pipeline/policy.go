package pipeline

import (
	"fmt"
	"strings"
)

// ErrorPolicy decides what RunContext.HandleError does with a record-level error.
type ErrorPolicy int

const (
	// SkipRecord counts and logs the error; the stage drops the record and continues.
	SkipRecord ErrorPolicy = iota
	// FailFast hands the error back to the stage, which aborts the whole run.
	FailFast
)

func (p ErrorPolicy) String() string {
	switch p {
	case SkipRecord:
		return "skip_record"
	case FailFast:
		return "fail_fast"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy accepts "skip_record" or "fail_fast" (case-insensitive, '-' or '_').
// An empty string yields SkipRecord.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "skip_record", "skip":
		return SkipRecord, nil
	case "fail_fast":
		return FailFast, nil
	default:
		return SkipRecord, fmt.Errorf("unknown error policy %q", s)
	}
}
