package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carebase/pkg/domain-errors"
)

func TestPath_Containment(t *testing.T) {
	org := Path("root.org_acme")

	assert.True(t, Path("root.org_acme").IsDescendantOf(org), "equal paths are contained")
	assert.True(t, Path("root.org_acme.north").IsDescendantOf(org))
	assert.True(t, Path("root.org_acme.north.ward_b").IsDescendantOf(org))
	assert.False(t, Path("root.org_acmex").IsDescendantOf(org), "label prefix is not containment")
	assert.False(t, Path("root").IsDescendantOf(org))
	assert.False(t, Path("").IsDescendantOf(org))
	assert.False(t, org.IsStrictDescendantOf(org))
}

func TestPath_Navigation(t *testing.T) {
	p := Path("root.org_acme.north")
	assert.Equal(t, 3, p.Depth())
	assert.Equal(t, Path("root.org_acme"), p.Parent())
	assert.Equal(t, Path(""), Path("root").Parent())
	assert.Equal(t, Path("root.org_acme.north.ward_b"), p.Child("ward_b"))
}

func TestParsePath(t *testing.T) {
	for _, bad := range []string{"", "root..x", "root.Org", "root.org-acme", "root.org acme"} {
		_, err := ParsePath(bad)
		require.Error(t, err, bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	}
	p, err := ParsePath("root.org_acme.ward_7")
	require.NoError(t, err)
	assert.Equal(t, "root.org_acme.ward_7", p.String())
}

func TestValidateOrganizationPath(t *testing.T) {
	parent := Path("root.org_acme")

	t.Run("root organization at depth two", func(t *testing.T) {
		require.NoError(t, ValidateOrganizationPath("root.org_acme", nil))
	})

	t.Run("root organization at wrong depth", func(t *testing.T) {
		err := ValidateOrganizationPath("root.org_acme.north", nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("path outside root label", func(t *testing.T) {
		err := ValidateOrganizationPath("tenant.org_acme", nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("sub-organization extends parent", func(t *testing.T) {
		require.NoError(t, ValidateOrganizationPath("root.org_acme.north", &parent))
	})

	t.Run("sub-organization equal to parent", func(t *testing.T) {
		err := ValidateOrganizationPath("root.org_acme", &parent)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("sub-organization under a different parent", func(t *testing.T) {
		err := ValidateOrganizationPath("root.org_other.north", &parent)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
