package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "abc-123", NormalizeCode("  ABC-123 "))
	assert.Equal(t, "abc-123", NormalizeCode("abc-123"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestScanKindValid(t *testing.T) {
	assert.True(t, ScanReception.Valid())
	assert.True(t, ScanEvent.Valid())
	assert.True(t, ScanAdminOverride.Valid())
	assert.False(t, ScanKind("teleport").Valid())
	assert.False(t, ScanKind("").Valid())
}
