package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spaceRe     = regexp.MustCompile(`[\s\-]+`)
	inconelRe   = regexp.MustCompile(`(?i)^(?:in|inconel)\s*_?\s*(718|625)$`)
	stainlessRe = regexp.MustCompile(`(?i)^(?:1\.4404|316\s*l)$`)
	aluminiumRe = regexp.MustCompile(`(?i)^alsi\s*10\s*mg$`)
)

// pooledGroups maps materials that share one build chamber atmosphere and
// powder handling onto a common group.
var pooledGroups = map[string]string{
	"IN718": "IN718_IN625",
	"IN625": "IN718_IN625",
}

// Designation is the normalised machine/material pair of a part or run.
type Designation struct {
	Machine       string
	Material      string
	MaterialGroup string
}

// Key is the machine/material-group key used by the rate table and the
// estimation models, e.g. "M2_neu_IN718_IN625".
func (d Designation) Key() string {
	return d.Machine + "_" + d.MaterialGroup
}

// NormalizeMachine collapses whitespace and dashes in a machine name to
// underscores: "M2 neu" -> "M2_neu".
func NormalizeMachine(raw string) string {
	s := strings.TrimSpace(raw)
	s = spaceRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// NormalizeMaterial maps the spellings seen in inquiries onto canonical names.
func NormalizeMaterial(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case inconelRe.MatchString(s):
		return "IN" + inconelRe.FindStringSubmatch(s)[1]
	case stainlessRe.MatchString(s):
		return "1.4404"
	case aluminiumRe.MatchString(s):
		return "AlSi10Mg"
	}
	return s
}

// MaterialGroup returns the pooling group of a canonical material.
func MaterialGroup(material string) string {
	if g, ok := pooledGroups[material]; ok {
		return g
	}
	return material
}

// ParseDesignation normalises raw machine and material strings.
func ParseDesignation(machine, material string) (Designation, error) {
	m := NormalizeMachine(machine)
	if m == "" {
		return Designation{}, fmt.Errorf("machine is required")
	}
	mat := NormalizeMaterial(material)
	if mat == "" {
		return Designation{}, fmt.Errorf("material is required for machine %q", m)
	}
	return Designation{Machine: m, Material: mat, MaterialGroup: MaterialGroup(mat)}, nil
}

// NormalizeGroup accepts either a material or an already pooled group name.
func NormalizeGroup(raw string) string {
	s := strings.TrimSpace(raw)
	for _, g := range pooledGroups {
		if strings.EqualFold(s, g) {
			return g
		}
	}
	return MaterialGroup(NormalizeMaterial(s))
}
