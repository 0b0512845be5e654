package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/stackforge/pkg/service"
)

const greetingTemplate = `
Description: greeting
Parameters:
  Greeting:
    Type: String
    Default: hello
Resources:
  Server:
    Type: Stackforge::Noop
    Properties:
      Value: {Ref: Greeting}
Outputs:
  Value:
    Value: {"Fn::GetAtt": [Server, value]}
`

// run executes the root command with args against the settings in cfg.
func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "now")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg, "--env-file", emptyEnv(t)}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func emptyEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.env")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestStackLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "stackforge.yaml", `
engine_id: engine-test
database_path: `+filepath.Join(dir, "state.db")+`
stack:
  poll_interval: 1ms
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
`)
	tmpl := writeFile(t, dir, "web.yaml", greetingTemplate)

	if out, err := run(t, cfg, "validate", tmpl); err != nil || !strings.Contains(out, "1 resources, 1 parameters") {
		t.Fatalf("validate = %q, %v", out, err)
	}

	out, err := run(t, cfg, "create", "web", tmpl, "-P", "Greeting=hi")
	if err != nil {
		t.Fatalf("create error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "CREATE_COMPLETE") {
		t.Errorf("Expected CREATE_COMPLETE in output, got:\n%s", out)
	}

	out, err = run(t, cfg, "--json", "show", "web")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	var info service.StackInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("show did not print JSON: %v\n%s", err, out)
	}
	if info.Outputs["Value"] != "hi" || info.Parameters["Greeting"] != "hi" {
		t.Errorf("Unexpected stack: outputs %v parameters %v", info.Outputs, info.Parameters)
	}

	changed := writeFile(t, dir, "web2.yaml", strings.Replace(greetingTemplate, "Default: hello", "Default: howdy", 1))
	out, err = run(t, cfg, "diff", "web", changed)
	if err != nil {
		t.Fatalf("diff error = %v", err)
	}
	if !strings.Contains(out, "- ") || !strings.Contains(out, "+ ") || !strings.Contains(out, "howdy") {
		t.Errorf("Expected the default change in the diff, got:\n%s", out)
	}
	if out, _ := run(t, cfg, "diff", "web", tmpl); !strings.Contains(out, "No changes") {
		t.Errorf("Expected no changes against the same template, got:\n%s", out)
	}

	out, err = run(t, cfg, "update", "web", "--reuse-parameters", "-P", "Greeting=hey")
	if err != nil || !strings.Contains(out, "UPDATE_COMPLETE") {
		t.Fatalf("update = %q, %v", out, err)
	}
	if out, _ := run(t, cfg, "outputs", "web"); !strings.Contains(out, "hey") {
		t.Errorf("Expected the updated output, got:\n%s", out)
	}

	if out, _ := run(t, cfg, "events", "web"); strings.Count(out, "Server") != 4 {
		t.Errorf("Expected 4 Server events, got:\n%s", out)
	}
	if out, _ := run(t, cfg, "list"); !strings.Contains(out, "web") {
		t.Errorf("Expected web in the listing, got:\n%s", out)
	}

	if _, err := run(t, cfg, "delete", "web"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if out, _ := run(t, cfg, "list"); !strings.Contains(out, "No stacks") {
		t.Errorf("Expected no stacks after delete, got:\n%s", out)
	}
	if _, err := run(t, cfg, "show", "web"); err == nil {
		t.Error("Expected show of a deleted stack to fail")
	}
}

func TestParseParameters(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{name: "pairs", pairs: []string{"a=1", "b=x=y", "c="}, want: map[string]string{"a": "1", "b": "x=y", "c": ""}},
		{name: "missing equals", pairs: []string{"a"}, wantErr: true},
		{name: "empty key", pairs: []string{"=1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParameters(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseParameters() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseParameters() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseParameters()[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestRenderDiff(t *testing.T) {
	out, changed := renderDiff("a\nb\nc\n", "a\nB\nc\n")
	if !changed {
		t.Fatal("Expected a change")
	}
	want := "  a\n- b\n+ B\n  c\n"
	if out != want {
		t.Errorf("renderDiff() = %q, want %q", out, want)
	}

	if _, changed := renderDiff("same\n", "same\n"); changed {
		t.Error("Expected identical input to report no change")
	}
}
