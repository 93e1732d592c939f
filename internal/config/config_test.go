package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Reconcile.OverlapThreshold != 0.65 || cfg.Reconcile.MatchThreshold != 0.6 {
		t.Fatalf("unexpected defaults: %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.AutoApprove {
		t.Fatal("auto_approve should default off")
	}
	if cfg.Board.RankStep != 1000 {
		t.Fatalf("unexpected rank_step: %v", cfg.Board.RankStep)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"overlap out of range", `
reconcile: {overlap_threshold: 1.5, match_threshold: 0.6, detail_level: medium}
board: {rank_step: 1000, min_rank_gap: 0.0001}
`, "overlap_threshold"},
		{"bad detail level", `
reconcile: {overlap_threshold: 0.65, match_threshold: 0.6, detail_level: verbose}
board: {rank_step: 1000, min_rank_gap: 0.0001}
`, "detail_level"},
		{"gap above step", `
reconcile: {overlap_threshold: 0.65, match_threshold: 0.6, detail_level: medium}
board: {rank_step: 10, min_rank_gap: 20}
`, "min_rank_gap"},
		{"webhook without url", `
reconcile: {overlap_threshold: 0.65, match_threshold: 0.6, detail_level: medium}
board: {rank_step: 1000, min_rank_gap: 0.0001}
webhooks:
  - events: [rescan.completed]
`, "url is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFromYAMLAcceptsWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`
reconcile: {overlap_threshold: 0.7, match_threshold: 0.8, auto_approve: true, detail_level: detailed}
board: {rank_step: 500, min_rank_gap: 0.001}
webhooks:
  - url: https://hooks.example.com/actionline
    events: [rescan.completed, completion.applied]
    secret: shh
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Reconcile.AutoApprove || cfg.Reconcile.DetailLevel != "detailed" {
		t.Fatalf("unexpected reconcile config: %+v", cfg.Reconcile)
	}
	if len(cfg.Webhooks) != 1 || len(cfg.Webhooks[0].Events) != 2 {
		t.Fatalf("unexpected webhooks: %+v", cfg.Webhooks)
	}
}
