package scenario

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinScriptsPass(t *testing.T) {
	scripts, err := Builtins()
	require.NoError(t, err)
	require.Len(t, scripts, 7)

	for _, s := range scripts {
		t.Run(s.Name, func(t *testing.T) {
			report := Run(context.Background(), s)
			for _, f := range report.Failed() {
				t.Errorf("sample #%d (%s): %v", f.Index, f.Input, f.Failures)
			}
		})
	}
}

func TestParseRejectsBadScripts(t *testing.T) {
	_, err := Parse([]byte(`samples: [{health: 1}]`))
	assert.ErrorContains(t, err, "no name")

	_, err = Parse([]byte(`name: empty`))
	assert.ErrorContains(t, err, "no samples")

	_, err = Parse([]byte("name: x\nsamples:\n  - confidence: 0.9\n"))
	assert.ErrorContains(t, err, "needs health or payload")

	_, err = Parse([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestRunReportsMismatch(t *testing.T) {
	s, err := Parse([]byte(`
name: wrong
samples:
  - health: 100
    expect: {frame: STFST00, look: left}
`))
	require.NoError(t, err)

	report := Run(context.Background(), s)
	require.False(t, report.Passed())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Len(t, failed[0].Failures, 2)

	var buf bytes.Buffer
	report.Print(&buf, false)
	assert.Contains(t, buf.String(), "FAIL")
	assert.Contains(t, buf.String(), "frame: want STFST00, got STFST01")
}

func TestRunRepeatChecksLastOnly(t *testing.T) {
	s, err := Parse([]byte(`
name: repeat
samples:
  - health: 100
    repeat: 4
    expect: {look: right}
`))
	require.NoError(t, err)

	report := Run(context.Background(), s)
	require.Len(t, report.Results, 4)
	assert.True(t, report.Passed())
	assert.False(t, report.Results[0].Checked)
	assert.True(t, report.Results[3].Checked)
}

func TestScriptThresholdOverride(t *testing.T) {
	s, err := Parse([]byte(`
name: strict
threshold: 0.95
samples:
  - health: 50
    confidence: 0.9
    expect: {held: true, frame: STFST01}
`))
	require.NoError(t, err)
	assert.True(t, Run(context.Background(), s).Passed())
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: disk\nsamples:\n  - health: 10\n    expect: {frame: STFOUCH4}\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "disk", s.Name)
	assert.True(t, Run(context.Background(), s).Passed())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
