package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringIncludesAllFields(t *testing.T) {
	s := String()
	assert.Contains(t, s, Version)
	assert.Contains(t, s, GitSHA)
	assert.Contains(t, s, BuildTime)
}
