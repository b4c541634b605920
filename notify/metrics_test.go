// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package notify

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerServesRegisteredMetrics(t *testing.T) {
	m := NewMetrics()
	m.CycleTotal.WithLabelValues("success").Inc()
	m.RevisionsApplied.WithLabelValues("svn_to_git").Add(3)
	m.ConflictsQueued.Inc()
	m.LastCycleSuccess.Set(1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics endpoint: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"gitsvnsync_cycle_total",
		"gitsvnsync_revisions_applied_total",
		"gitsvnsync_conflicts_queued_total",
		"gitsvnsync_last_cycle_success 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\nfull output:\n%s", want, body)
		}
	}
}
