package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDesignation(t *testing.T) {
	testCases := []struct {
		name      string
		machine   string
		material  string
		expected  Designation
		expectErr bool
	}{
		{
			name:     "Inconel pooled",
			machine:  "M2 neu",
			material: "IN718",
			expected: Designation{Machine: "M2_neu", Material: "IN718", MaterialGroup: "IN718_IN625"},
		},
		{
			name:     "Inconel spelled out",
			machine:  "EOS",
			material: "Inconel 625",
			expected: Designation{Machine: "EOS", Material: "IN625", MaterialGroup: "IN718_IN625"},
		},
		{
			name:     "Stainless alias",
			machine:  " M2-alt ",
			material: "316L",
			expected: Designation{Machine: "M2_alt", Material: "1.4404", MaterialGroup: "1.4404"},
		},
		{
			name:     "Aluminium casing",
			machine:  "Xline",
			material: "alsi10mg",
			expected: Designation{Machine: "Xline", Material: "AlSi10Mg", MaterialGroup: "AlSi10Mg"},
		},
		{
			name:     "Unknown material kept",
			machine:  "Xline",
			material: "Ti64",
			expected: Designation{Machine: "Xline", Material: "Ti64", MaterialGroup: "Ti64"},
		},
		{
			name:      "Missing machine",
			machine:   "  ",
			material:  "IN718",
			expectErr: true,
		},
		{
			name:      "Missing material",
			machine:   "EOS",
			material:  "",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseDesignation(tc.machine, tc.material)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, parsed)
			}
		})
	}
}

func TestDesignationKeyAndGroups(t *testing.T) {
	d, err := ParseDesignation("M2 neu", "IN625")
	assert.NoError(t, err)
	assert.Equal(t, "M2_neu_IN718_IN625", d.Key())

	assert.Equal(t, "IN718_IN625", NormalizeGroup("in718_in625"))
	assert.Equal(t, "IN718_IN625", NormalizeGroup("IN 718"))
	assert.Equal(t, "1.4404", NormalizeGroup("316L"))
}
