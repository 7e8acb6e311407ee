package extract

import (
	"strings"

	"github.com/pkg/xattr"
)

// Freedesktop attributes that desktop file managers use for user tags and notes.
var tagAttrs = []string{
	"user.xdg.tags",
	"user.xdg.comment",
}

// readTags returns the file's tag attributes joined by newlines. Filesystems
// without xattr support simply contribute nothing.
func readTags(path string) string {
	var parts []string
	for _, name := range tagAttrs {
		val, err := xattr.Get(path, name)
		if err != nil || len(val) == 0 {
			continue
		}
		parts = append(parts, strings.ReplaceAll(string(val), ",", " "))
	}
	return strings.Join(parts, "\n")
}
