package provider

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewOrderIDIsAlphanumericAndCapped(t *testing.T) {
	id := uuid.MustParse("a3bb189e-8bf9-3888-9912-ace4e6543002")
	got := NewOrderID(id)

	assert.Len(t, got, 19)
	assert.Equal(t, "a3bb189e8bf93888991", got)
}

func TestSanitizeOrderID(t *testing.T) {
	assert.Equal(t, "abc123", SanitizeOrderID("abc-123"))
	assert.Equal(t, "ORDER42", SanitizeOrderID("ORDER_42!"))
	assert.Equal(t, "", SanitizeOrderID("---"))
	assert.Equal(t, "1234567890123456789", SanitizeOrderID("12345678901234567890"))
}
