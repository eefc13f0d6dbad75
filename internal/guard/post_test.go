package guard

import (
	"errors"
	"testing"

	"github.com/xela07ax/agentgate/internal/domain"
)

func TestValidatePost_WellFormedResult(t *testing.T) {
	t.Parallel()

	result, violations := ValidatePost([]byte(`{"status":"done","ops_count":42,"cost_cents_used":3}`))
	if len(violations) != 0 {
		t.Fatalf("violations = %+v, want none", violations)
	}
	if result["status"] != "done" {
		t.Errorf("result[status] = %v, want done", result["status"])
	}
	if result["ops_count"] != float64(42) {
		t.Errorf("result[ops_count] = %v, want 42", result["ops_count"])
	}
}

func TestValidatePost_NotAnObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"array", `[1,2,3]`},
		{"scalar", `"done"`},
		{"null", `null`},
		{"garbage", `{{{`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, violations := ValidatePost([]byte(tt.raw))
			if result != nil {
				t.Errorf("result = %v, want nil", result)
			}
			if len(violations) != 1 || violations[0].Kind != domain.ViolationResultShape {
				t.Errorf("violations = %+v, want single result_shape", violations)
			}
		})
	}
}

func TestValidatePost_InvalidMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantField string
	}{
		{"negative ops_count", `{"ops_count":-5}`, "ops_count"},
		{"fractional ops_count", `{"ops_count":1.5}`, "ops_count"},
		{"string ops_count", `{"ops_count":"many"}`, "ops_count"},
		{"negative cost", `{"cost_cents_used":-1}`, "cost_cents_used"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, violations := ValidatePost([]byte(tt.raw))
			if len(violations) != 1 {
				t.Fatalf("violations = %+v, want exactly one", violations)
			}
			v := violations[0]
			if v.Kind != domain.ViolationMetricInvalid || v.Field != tt.wantField {
				t.Errorf("violation = %+v, want metric_invalid on %s", v, tt.wantField)
			}
			// The result itself is returned unmodified: post-guardrails warn,
			// they do not redact.
			if result == nil {
				t.Error("result = nil, want the parsed object back")
			}
		})
	}
}

func TestValidatePost_BothMetricsInvalid(t *testing.T) {
	t.Parallel()

	_, violations := ValidatePost([]byte(`{"ops_count":-5,"cost_cents_used":0.5}`))
	if len(violations) != 2 {
		t.Fatalf("violations = %+v, want two metric_invalid entries", violations)
	}
}

func TestValidatePost_AbsentMetricsAreFine(t *testing.T) {
	t.Parallel()

	result, violations := ValidatePost([]byte(`{"status":"archived"}`))
	if len(violations) != 0 {
		t.Errorf("violations = %+v, want none", violations)
	}
	if result["status"] != "archived" {
		t.Errorf("result = %v", result)
	}
}

func TestValidatePost_ZeroMetricIsValid(t *testing.T) {
	t.Parallel()

	_, violations := ValidatePost([]byte(`{"ops_count":0}`))
	if len(violations) != 0 {
		t.Errorf("violations = %+v, want none: zero is a valid count", violations)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register("act", ActionSpec{Handler: echoHandler{}}); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	if err := r.Register("act", ActionSpec{Handler: echoHandler{}}); err == nil {
		t.Error("duplicate Register() succeeded, want error")
	}
}

func TestRegistry_SpecUnknownAction(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Spec("ghost"); !errors.Is(err, domain.ErrUnknownAction) {
		t.Errorf("Spec(ghost) error = %v, want ErrUnknownAction", err)
	}
}
