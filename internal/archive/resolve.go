package archive

import "github.com/databio/refgenies/internal/regpath"

// Resolve moves the genome into the Namespace slot. The registry path parser
// treats Item as primary, so a bare "hg38" arrives as Item; any path with an
// empty Namespace has Item shifted into it. Paths that already carry a
// Namespace pass through unchanged. The input slice is not modified.
func Resolve(paths []regpath.Path) []regpath.Path {
	out := make([]regpath.Path, len(paths))

	for i, p := range paths {
		if p.Namespace == "" {
			p.Namespace = p.Item
			p.Item = ""
		}

		out[i] = p
	}

	return out
}
