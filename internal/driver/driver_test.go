package driver

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseSelector(t *testing.T) {
	cases := []struct {
		raw  string
		want Selector
	}{
		{".btn_login", CSS(".btn_login")},
		{"input[type='submit']", CSS("input[type='submit']")},
		{"text:로그인", Text("로그인")},
		{"xpath://button[contains(text(), '지원하기')]", Selector{Strategy: ByXPath, Value: "//button[contains(text(), '지원하기')]"}},
		{"id:loginId", Selector{Strategy: ByID, Value: "loginId"}},
		{"name:password", Selector{Strategy: ByName, Value: "password"}},
		{"a[href*='http://x']", CSS("a[href*='http://x']")},
	}
	for _, tc := range cases {
		if got := ParseSelector(tc.raw); got != tc.want {
			t.Errorf("ParseSelector(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestParseSelectors_SkipsBlank(t *testing.T) {
	got := ParseSelectors([]string{" #loginId ", "", "  "})
	if len(got) != 1 || got[0] != CSS("#loginId") {
		t.Errorf("unexpected selectors %+v", got)
	}
}

func TestSelector_UnmarshalYAML(t *testing.T) {
	var got []Selector
	src := "- .company_nm a\n- text:지원하기\n- strategy: xpath\n  value: //h1\n- value: .corp_name\n"
	if err := yaml.Unmarshal([]byte(src), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []Selector{
		CSS(".company_nm a"),
		Text("지원하기"),
		{Strategy: ByXPath, Value: "//h1"},
		CSS(".corp_name"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d selectors, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("selector %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
