package courier

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIsValidIdentifier(t *testing.T) {
	require.True(t, IsValidIdentifier(newID()))
	require.True(t, IsValidIdentifier(strings.ToUpper(newID())))
	require.True(t, IsValidIdentifier("{"+newID()+"}"), "braced form is standard")

	require.False(t, IsValidIdentifier(""))
	require.False(t, IsValidIdentifier(uuid.Nil.String()))
	require.False(t, IsValidIdentifier("not-a-uuid"))
	require.False(t, IsValidIdentifier(newID()[:30]))

	require.NotEqual(t, newID(), newID())
}
