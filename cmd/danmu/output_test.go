package main

import (
	"strings"
	"testing"

	"danmu/internal/api"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight}, false)
	if !strings.Contains(out, "only") || !strings.Contains(out, "A") {
		t.Fatalf("unexpected table %q", out)
	}
	if renderTable(nil, nil, nil, false) != "" {
		t.Fatal("expected empty table without headers")
	}
}

func TestRenderTableUppercasesHeaders(t *testing.T) {
	out := renderTable([]string{"Downloads", "Skipped"}, [][]string{{"3", "1"}}, nil, false)
	if !strings.Contains(out, "DOWNLOADS") || !strings.Contains(out, "SKIPPED") {
		t.Fatalf("expected upper-cased headers, got %q", out)
	}
}

func TestRenderStatusLineColor(t *testing.T) {
	plain := renderStatusLine("Daemon", statusOK, "running", false)
	if strings.Contains(plain, "\x1b[") || !strings.Contains(plain, "[OK] running") {
		t.Fatalf("unexpected plain line %q", plain)
	}
	colored := renderStatusLine("Daemon", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("unexpected colored line %q", colored)
	}
}

func TestRenderSearchListsFailures(t *testing.T) {
	out := renderSearch(api.SearchResponse{
		Keyword:  "Show",
		Results:  []api.SearchResult{{Provider: "tencent", ID: "t1", Name: "Show", Score: 0.5, Reason: "similarity below threshold"}},
		Failures: []api.SearchFailure{{Provider: "iqiyi", Error: "rate limited", Throttled: true}},
	}, false)
	requireContains(t, out, "similarity below threshold")
	requireContains(t, out, "[WARN] rate limited")

	if got := renderSearch(api.SearchResponse{Keyword: "none"}, false); got != `No candidates for "none"` {
		t.Fatalf("unexpected empty render %q", got)
	}
}

func TestDescribeRefresh(t *testing.T) {
	got := describeRefresh(api.RefreshResponse{ItemID: "e1", Kind: "Episode", All: true})
	if got != "Queued refresh for episode e1, whole season" {
		t.Fatalf("unexpected description %q", got)
	}
}
