package pipeline

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type inputFile struct {
	Path  string
	Input InputConfig
}

// expandInputs resolves every input glob. A path matched by two inputs
// belongs to the first.
func expandInputs(inputs []InputConfig) ([]inputFile, error) {
	seen := make(map[string]struct{})
	var out []inputFile
	for _, in := range inputs {
		if strings.TrimSpace(in.Glob) == "" {
			continue
		}
		matches, err := expandGlobWithDoubleStar(in.Glob)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, inputFile{Path: m, Input: in})
		}
	}
	return out, nil
}

// expandGlobWithDoubleStar extends filepath.Glob with one "**" segment
// matching any directory depth.
func expandGlobWithDoubleStar(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Glob(pattern)
	}

	idx := strings.Index(pattern, "**")
	base := strings.TrimRight(pattern[:idx], string(filepath.Separator)+"/")
	if base == "" {
		base = "."
	}
	base = filepath.Clean(base)

	suffix := strings.TrimLeft(pattern[idx+2:], string(filepath.Separator)+"/")
	if suffix == "" {
		suffix = "*"
	}
	baseSlash := filepath.ToSlash(base)
	suffixSlash := filepath.ToSlash(suffix)
	basenameOnly := !strings.Contains(suffixSlash, "/")

	var matches []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimLeft(strings.TrimPrefix(filepath.ToSlash(p), baseSlash), "/")
		candidate := rel
		if basenameOnly {
			candidate = path.Base(rel)
		}
		ok, err := path.Match(suffixSlash, candidate)
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
