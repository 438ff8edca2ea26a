package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "out.png"), dir))
	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "sub", "out.png"), dir))

	err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.png"), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")

	assert.Error(t, ValidatePathWithinDirectory("/etc/passwd", dir))
}

func TestValidateExportPathAllowsTempAndCwd(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(t.TempDir(), "report.html")))
	assert.NoError(t, ValidateExportPath("plots/run_001.png"))
	assert.Error(t, ValidateExportPath("/etc/report.html"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "synth_shake", SanitizeFilename("synth:shake"))
	assert.Equal(t, "run-1.2_final", SanitizeFilename("run-1.2 final"))
	assert.Equal(t, "unknown", SanitizeFilename(""))
	assert.Equal(t, "unknown", SanitizeFilename("///"))
	assert.LessOrEqual(t, len(SanitizeFilename(string(make([]byte, 500)))), 128)
}
