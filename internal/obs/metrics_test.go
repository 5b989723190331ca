package obs

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/authz/client/check":         "/v1/authz/:resource/check",
		"/v1/authz/note/check?verbose=1": "/v1/authz/:resource/check",
		"/v1/authz/client/other":         "/v1/authz/client/other",
		"/v1/auth/login":                 "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.2.3", "")
	SetBuildInfo("1.2.4", "abc")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "clientdesk_build_info" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("build info series = %d, want 1", len(mf.GetMetric()))
		}
		labels := map[string]string{}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["version"] != "1.2.4" || labels["commit"] != "abc" || labels["go_version"] != runtime.Version() {
			t.Fatalf("unexpected labels %v", labels)
		}
		return
	}
	t.Fatal("clientdesk_build_info not registered")
}
