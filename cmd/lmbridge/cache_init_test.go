package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/lmbridge/internal/bootstrap"
	"github.com/hyperengineering/lmbridge/internal/config"
)

func TestRunCacheInit_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"success", nil, bootstrap.ExitOK},
		{"missing sql", fmt.Errorf("mirror_indexes: %w", bootstrap.ErrMissingSQL), bootstrap.ExitMissingSQL},
		{"unreachable", bootstrap.ErrDatabaseUnreachable, bootstrap.ExitFatal},
		{"provisioning", fmt.Errorf("%w: denied", bootstrap.ErrCacheProvisioning), bootstrap.ExitCacheProvisioning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLogs(t)
			t.Setenv("LMBRIDGE_CONFIG_PATH", t.TempDir()+"/none.yaml")
			prev := runBootstrap
			runBootstrap = func(context.Context, *config.Config) (bootstrap.Report, error) {
				return bootstrap.Report{RunID: "run-1", State: bootstrap.SchemaEnsured}, tt.err
			}
			t.Cleanup(func() { runBootstrap = prev })

			var out bytes.Buffer
			cacheInitCmd.SetOut(&out)
			err := runCacheInit(cacheInitCmd, nil)

			code := bootstrap.ExitOK
			var ee *exitError
			if errors.As(err, &ee) {
				code = ee.code
			} else if err != nil {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if !bytes.Contains(out.Bytes(), []byte("run-1")) {
				t.Errorf("report not printed: %s", out.String())
			}
		})
	}
}

func TestPrintReport_JSON(t *testing.T) {
	cacheInitJSON = true
	t.Cleanup(func() { cacheInitJSON = false })

	var out bytes.Buffer
	report := bootstrap.Report{RunID: "run-2", State: bootstrap.Done, MigratedRoles: []string{"lidarr"}}
	if err := printReport(&out, report, nil); err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("decode %s: %v", out.String(), err)
	}
	if doc["state"] != "done" || doc["exit_code"] != float64(0) {
		t.Errorf("doc = %v", doc)
	}
	if roles, _ := doc["migrated_roles"].([]any); len(roles) != 1 {
		t.Errorf("migrated_roles = %v", doc["migrated_roles"])
	}
	if warnings, ok := doc["warnings"].([]any); !ok || len(warnings) != 0 {
		t.Errorf("warnings = %v, want []", doc["warnings"])
	}
}
