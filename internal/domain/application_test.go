package domain

import "testing"

func TestExtractJobID(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"rec_idx query", "https://www.saramin.co.kr/zf_user/jobs/relay/view?view_type=search&rec_idx=48213377", "48213377"},
		{"numeric path segment", "https://www.saramin.co.kr/zf_user/jobs/view/51234/detail", "51234"},
		{"trailing numeric segment", "https://example.com/jobs/777", "777"},
		{"non numeric rec_idx falls through", "https://example.com/jobs/12?rec_idx=abc", "12"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJobID(tc.url); got != tc.want {
				t.Errorf("ExtractJobID(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestExtractJobID_HashFallback(t *testing.T) {
	u := "https://example.com/jobs/view?slug=bio-researcher"
	first := ExtractJobID(u)
	if len(first) != 16 {
		t.Fatalf("expected 16 char hash id, got %q", first)
	}
	if again := ExtractJobID(u); again != first {
		t.Errorf("hash id is not stable: %q vs %q", first, again)
	}
	if other := ExtractJobID(u + "&x=1"); other == first {
		t.Errorf("different URLs produced the same id %q", other)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	if ExecutionRunning.IsTerminal() {
		t.Error("running must not be terminal")
	}
	if !ExecutionCompleted.IsTerminal() || !ExecutionFailed.IsTerminal() {
		t.Error("completed and failed must be terminal")
	}
}
