package viewer

import (
	"strconv"
	"strings"
)

// IndexPlaceholder is replaced by the rotation index in screenshot filenames.
const IndexPlaceholder = "{idx}"

// Rotation hands out screenshot paths on the Kodi host, cycling through
// size indices so Kodi never overwrites the file being downloaded. A size
// of 1 or less always yields index 0.
type Rotation struct {
	dir     string
	pattern string
	size    int
	next    int
}

// NewRotation creates a rotation over dir/pattern.
func NewRotation(dir, pattern string, size int) *Rotation {
	if size < 1 {
		size = 1
	}
	return &Rotation{dir: dir, pattern: pattern, size: size}
}

// Next returns the next index and its path.
func (r *Rotation) Next() (int, string) {
	idx := r.next
	r.next = (r.next + 1) % r.size
	return idx, r.Path(idx)
}

// Path returns the path for idx. Paths are joined with '/' as-is because
// they name files on the Kodi host, which may use special:// URLs.
func (r *Rotation) Path(idx int) string {
	name := strings.ReplaceAll(r.pattern, IndexPlaceholder, strconv.Itoa(idx))
	if r.dir == "" {
		return name
	}
	return strings.TrimSuffix(r.dir, "/") + "/" + name
}

// Size returns the number of distinct indices.
func (r *Rotation) Size() int { return r.size }
