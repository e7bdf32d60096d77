package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flowgate/internal/config"
	"flowgate/internal/domain"
	"flowgate/internal/workflow"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default("proj-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "proj-1" || cfg.Project.Kind != "issue-tracker" {
		t.Fatalf("project = %+v", cfg.Project)
	}

	table, _ := workflow.BuildTable(cfg.Workflow.Rules, workflow.NewRegistry())
	if len(table.Defects) != 0 {
		t.Fatalf("default rules have defects: %v", table.Defects)
	}
	for _, action := range []string{"describe", "release", "send", "reassign"} {
		if _, ok := table.ByName[action]; !ok {
			t.Fatalf("default rules miss action %s", action)
		}
	}

	q := cfg.QuotaPolicy()
	if !q.TCRequired || q.TCDelegated {
		t.Fatalf("quota = %+v", q)
	}
	if q.Reserved() != 3 {
		t.Fatalf("reserved = %d", q.Reserved())
	}

	groups := cfg.RoleGroupSet()
	if !groups["Project Manager"] || !groups["Quality"] {
		t.Fatalf("role groups = %v", groups)
	}
}

func TestDefaultOperationVocabulary(t *testing.T) {
	cfg := config.Default("p1")
	e := workflow.New(workflow.Options{Rules: cfg.Workflow.Rules})

	prf := domain.Item{Type: "PRF", Status: "07-assigned_for_closure_actions"}
	ops, err := e.Operations("resolve", prf, "")
	if err != nil {
		t.Fatalf("resolve ops: %v", err)
	}
	if len(ops) != 2 || ops[0] != workflow.OpAgreeToSign || ops[1] != workflow.OpSetResolution {
		t.Fatalf("resolve ops = %v", ops)
	}

	doc := domain.Item{Type: "DOC", Status: "03-assigned_for_formal_review"}
	ops, err = e.Operations("return_to_peer_review", doc, "")
	if err != nil {
		t.Fatalf("return ops: %v", err)
	}
	found := false
	for _, op := range ops {
		if op == workflow.OpReturnToReview {
			found = true
		}
	}
	if !found {
		t.Fatalf("return_to_peer_review ops = %v", ops)
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("p9")))
	if err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	if cfg.Project.ID != "p9" {
		t.Fatalf("project id = %s", cfg.Project.ID)
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() *config.Config { return config.Default("p1") }

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing project id", func(c *config.Config) { c.Project.ID = "" }, "project.id is required"},
		{"wrong kind", func(c *config.Config) { c.Project.Kind = "wiki" }, "must be 'issue-tracker'"},
		{"no rules", func(c *config.Config) { c.Workflow.Rules = nil }, "workflow.rules is required"},
		{"empty rule key", func(c *config.Config) {
			c.Workflow.Rules = append(c.Workflow.Rules, workflow.Rule{Value: "x"})
		}, "empty key"},
		{"roles without admin", func(c *config.Config) {
			delete(c.RBAC.Roles, "admin")
		}, "must include admin"},
		{"unknown permission", func(c *config.Config) {
			c.RBAC.Roles["reporter"] = config.RBACRole{Permissions: []string{"SUDO"}}
		}, "unknown permission SUDO"},
		{"webhook without url", func(c *config.Config) {
			c.Webhooks = append(c.Webhooks, config.WebhookConfig{Events: []string{"item.created"}})
		}, "url is required"},
		{"bad capacity", func(c *config.Config) {
			c.Signing.Capacities["Word"] = 0
		}, "must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	ws := t.TempDir()

	if _, err := config.Load(ws); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("load missing = %v", err)
	}
	cfg, err := config.LoadOptional(ws)
	if err != nil || cfg != nil {
		t.Fatalf("optional missing = %v, %v", cfg, err)
	}

	if err := os.WriteFile(config.Path(ws), []byte(config.GenerateDefault("p2")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "p2" {
		t.Fatalf("project id = %s", cfg.Project.ID)
	}

	bad := filepath.Join(ws, "bad.yml")
	if err := os.WriteFile(bad, []byte("project: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.FromFile(bad); err == nil {
		t.Fatalf("expected yaml error")
	}
}
