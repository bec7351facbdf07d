package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertFile struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestBillingAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "billing.yml"))
	require.NoError(t, err)

	var rules alertFile
	require.NoError(t, yaml.Unmarshal(data, &rules))
	require.Len(t, rules.Groups, 1)
	group := rules.Groups[0]
	assert.Equal(t, "billing", group.Name)

	expected := map[string]struct {
		severity string
		metric   string
	}{
		"HighErrorRate":               {severity: "critical", metric: "billing_http_requests_total"},
		"UncompensatedPartialFailure": {severity: "critical", metric: "billing_partial_failures_total"},
		"NumberConflictSpike":         {severity: "warning", metric: "billing_number_conflicts_total"},
		"ReconcileJobFailing":         {severity: "warning", metric: "billing_jobs_failures_total"},
	}
	require.Len(t, group.Rules, len(expected))

	runbook, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-billing.md"))
	require.NoError(t, err)

	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		assert.Contains(t, rule.Expr, want.metric, rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)

		link := rule.Annotations["runbook"]
		require.True(t, strings.HasPrefix(link, "docs/runbook-billing.md#"), rule.Alert)
		anchor := strings.TrimPrefix(link, "docs/runbook-billing.md#")
		heading := "## " + strings.ReplaceAll(anchor, "-", " ")
		assert.Contains(t, strings.ToLower(string(runbook)), heading, rule.Alert)
	}
}
