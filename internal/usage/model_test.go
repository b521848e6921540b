package usage

import (
	"testing"
)

func TestResultJSONShapes(t *testing.T) {
	timeout := FailureReport{Reason: ReasonTimeout, Error: "Request timed out"}
	authFailed := FailureReport{Reason: ReasonAuthFailed, Error: "Authentication failed - please re-authenticate", HTTPCode: intPtr(401), RetryCount: intPtr(2)}

	cases := []struct {
		name string
		in   Result
		want string
	}{
		{"claude not installed", ClaudeResult{Usage: &ClaudeUsage{FiveHourPct: 3}}, `{"installed":false}`},
		{"claude failure", ClaudeResult{Installed: true, Failure: &timeout}, `{"installed":true,"fail_reason":"timeout","error":"Request timed out"}`},
		{"codex failure has no has_data", CodexResult{Installed: true, Failure: &timeout}, `{"installed":true,"fail_reason":"timeout","error":"Request timed out"}`},
		{"codex no data", CodexResult{Installed: true}, `{"installed":true,"has_data":false}`},
		{"gemini not installed", GeminiResult{Refreshed: true}, `{"installed":false}`},
		{
			"gemini failure with refresh",
			GeminiResult{Installed: true, Refreshed: true, Failure: &authFailed},
			`{"installed":true,"authenticated":false,"refreshed":true,"fail_reason":"auth_failed","error":"Authentication failed - please re-authenticate","http_code":401,"retry_count":2}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := marshalResult(t, tc.in); got != tc.want {
				t.Fatalf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestRoundPercentHalfToEven(t *testing.T) {
	cases := map[float64]int{
		0.5:  0,
		1.5:  2,
		2.5:  2,
		12.4: 12,
		99.6: 100,
	}
	for in, want := range cases {
		if got := roundPercent(in); got != want {
			t.Fatalf("roundPercent(%v) = %d, want %d", in, got, want)
		}
	}
}
