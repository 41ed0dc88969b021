package main

import (
	"bytes"
	"flag"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamehost/internal/storage/postgres"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		args []string
		want plan
	}{
		{[]string{"up"}, plan{action: actionUp}},
		{[]string{"up", "2"}, plan{action: actionUp, n: 2}},
		{[]string{"down", "1"}, plan{action: actionDown, n: 1}},
		{[]string{"down", "all"}, plan{action: actionDown, all: true}},
		{[]string{"status"}, plan{action: actionStatus}},
		{[]string{"force", "0"}, plan{action: actionForce}},
		{[]string{"force", "-1"}, plan{action: actionForce, n: -1}},
	}
	for _, tt := range tests {
		got, err := parsePlan(tt.args)
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.want, got, "%v", tt.args)
	}
}

func TestParsePlan_Rejects(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"sideways"},
		{"down"},
		{"down", "0"},
		{"up", "many"},
		{"status", "now"},
		{"force"},
		{"force", "-2"},
		{"up", "1", "2"},
	} {
		_, err := parsePlan(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestPlanString(t *testing.T) {
	assert.Equal(t, "up", plan{action: actionUp}.String())
	assert.Equal(t, "up 3", plan{action: actionUp, n: 3}.String())
	assert.Equal(t, "down all", plan{action: actionDown, all: true}.String())
	assert.Equal(t, "force 0", plan{action: actionForce}.String())
}

func TestPropertyStepCountsRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		action := rapid.SampledFrom([]string{actionUp, actionDown}).Draw(rt, "action")
		n := rapid.IntRange(1, 1000).Draw(rt, "n")
		p, err := parsePlan([]string{action, strconv.Itoa(n)})
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}
		if p.action != action || p.n != n {
			rt.Fatalf("got %+v, want %s %d", p, action, n)
		}
	})
}

func TestUsageNamesArchiveAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.String("config", "configs/dev.yaml", "path to configuration file")
	var buf bytes.Buffer
	usage(&buf, fs)
	out := buf.String()
	assert.Contains(t, out, "session archive")
	assert.Contains(t, out, "down <n|all>")
	assert.Contains(t, out, "-config")
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	writeSummary(&buf, postgres.ArchiveSummary{})
	assert.Equal(t, "archive: empty\n", buf.String())

	buf.Reset()
	writeSummary(&buf, postgres.ArchiveSummary{
		Sessions:    4,
		Communities: 2,
		LastEnded:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "archive: 4 sessions from 2 communities, last ended 2026-05-01T10:00:00Z\n", buf.String())
}
