package hnrlog_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/seedguard/seedguard/internal/data/repos/hnrlog"
	"github.com/seedguard/seedguard/internal/data/repos/testutil"
	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/pkg/dbctx"
)

func newRepo(t *testing.T) (hnrlog.Repo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	repo := hnrlog.NewRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: testutil.Tx(t, db)}
	return repo, dbc
}

func TestCreatePersistsMatchedRules(t *testing.T) {
	repo, dbc := newRepo(t)

	det, err := repo.Create(dbc, hnrlog.Record{
		Title:        "Some.Movie.2024.1080p.WEB-DL H&R",
		SiteKey:      "mteam",
		Verdict:      types.HRVerdictBlocked,
		Confidence:   0.9,
		MatchedRules: []string{"hnr_basic", "h3_rule"},
		Category:     "HNR_BASIC",
		Message:      "检测到H&R考核要求",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var rules []string
	if err := json.Unmarshal(det.MatchedRules, &rules); err != nil {
		t.Fatalf("unmarshal rules: %v", err)
	}
	if len(rules) != 2 || rules[0] != "hnr_basic" {
		t.Fatalf("matched rules not preserved: %v", rules)
	}
}

func TestRecentFiltersByVerdict(t *testing.T) {
	repo, dbc := newRepo(t)

	for _, v := range []types.HRVerdict{types.HRVerdictBlocked, types.HRVerdictSuspected, types.HRVerdictBlocked} {
		if _, err := repo.Create(dbc, hnrlog.Record{
			Title:   "title",
			SiteKey: "hdsky",
			Verdict: v,
		}); err != nil {
			t.Fatalf("create %s: %v", v, err)
		}
	}

	blocked, err := repo.Recent(dbc, 10, types.HRVerdictBlocked)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(blocked) != 2 {
		t.Fatalf("expected 2 blocked rows, got %d", len(blocked))
	}
	for _, d := range blocked {
		if d.Verdict != types.HRVerdictBlocked {
			t.Fatalf("filter leaked verdict %s", d.Verdict)
		}
	}

	all, err := repo.Recent(dbc, 2, "")
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit not applied, got %d rows", len(all))
	}
}
