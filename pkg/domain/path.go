package domain

import (
	"regexp"
	"strings"

	dErrors "carebase/pkg/domain-errors"
)

// Path is a dot-separated hierarchical label path (ltree compatible), e.g.
// "root.org_acme.north_campus". A path is within another when it equals it or
// extends it by whole labels.
type Path string

// RootLabel is the first label of every organization path.
const RootLabel = "root"

// RootOrgDepth is the depth of a top-level organization path (root.<slug>).
const RootOrgDepth = 2

var labelPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ParsePath validates raw and returns it as a Path.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeValidation, "path is required")
	}
	for _, label := range strings.Split(raw, ".") {
		if !labelPattern.MatchString(label) {
			return "", dErrors.Newf(dErrors.CodeValidation, "invalid path label %q", label)
		}
	}
	return Path(raw), nil
}

func (p Path) String() string { return string(p) }

func (p Path) Labels() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

func (p Path) Depth() int { return len(p.Labels()) }

// Parent returns the path with the last label removed, or "" for single-label paths.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Child appends one label.
func (p Path) Child(label string) Path {
	if p == "" {
		return Path(label)
	}
	return Path(string(p) + "." + label)
}

// IsDescendantOf reports whether p equals ancestor or lies beneath it (ltree <@).
func (p Path) IsDescendantOf(ancestor Path) bool {
	if p == "" || ancestor == "" {
		return false
	}
	if p == ancestor {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+".")
}

// IsStrictDescendantOf is IsDescendantOf excluding equality.
func (p Path) IsStrictDescendantOf(ancestor Path) bool {
	return p != ancestor && p.IsDescendantOf(ancestor)
}

// ValidateOrganizationPath checks the hierarchy shape rules: a root
// organization has no parent and sits at RootOrgDepth under RootLabel; a
// sub-organization's path strictly extends its parent path.
func ValidateOrganizationPath(path Path, parent *Path) error {
	if _, err := ParsePath(string(path)); err != nil {
		return err
	}
	labels := path.Labels()
	if labels[0] != RootLabel {
		return dErrors.Newf(dErrors.CodeValidation, "organization path must start with %q", RootLabel)
	}
	if parent == nil || *parent == "" {
		if len(labels) != RootOrgDepth {
			return dErrors.Newf(dErrors.CodeValidation, "root organization path must have depth %d", RootOrgDepth)
		}
		return nil
	}
	if !path.IsStrictDescendantOf(*parent) {
		return dErrors.Newf(dErrors.CodeValidation, "path %s does not extend parent path %s", path, *parent)
	}
	return nil
}
