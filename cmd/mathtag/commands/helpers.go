package commands

import (
	"fmt"
	"path/filepath"
	"strings"
)

func pluralize(n int, noun string) string {
	if n == 1 || strings.HasSuffix(noun, "ed") {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// isWithin reports whether path is dir or inside it
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
