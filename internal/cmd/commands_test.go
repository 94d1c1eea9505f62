package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/drafts"
)

func TestParseThresholds(t *testing.T) {
	got, err := parseThresholds("70, 80,,90")
	require.NoError(t, err)
	assert.Equal(t, []int{70, 80, 90}, got)

	for _, in := range []string{"", " , ", "abc", "101", "-1"} {
		_, err := parseThresholds(in)
		assert.Error(t, err, in)
	}
}

func TestWriteThresholdReport(t *testing.T) {
	var buf bytes.Buffer
	rows := []drafts.ThresholdRow{
		{Threshold: 80, Eligible: 2, Share: 0.5, Published: 1, PublishRate: 0.5},
	}
	require.NoError(t, writeThresholdReport(&buf, rows, 4))

	out := buf.String()
	assert.Contains(t, out, "THRESHOLD")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "total drafts: 4")
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "hunt", "sync-metrics", "cleanup", "threshold-report", "migrate"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestCleanupRejectsOutOfRange(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"cleanup", "--below", "150"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 100")
}

func TestMigrateMemoryStorage(t *testing.T) {
	t.Setenv("AUTOPILOT_STORAGE_TYPE", "memory")
	t.Setenv("AUTOPILOT_CONFIG", "")
	cfgFile = ""

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"migrate"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "needs no migration")
}
