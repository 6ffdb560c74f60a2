package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// LoadDescriptions reads a two-column CSV of genome name and description.
// Rows with fewer than two fields or an empty genome are ignored; later
// rows win over earlier ones.
func LoadDescriptions(fsys afero.Fs, p string) (map[string]string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, fmt.Errorf("genome descriptions: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	out := make(map[string]string)

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("genome descriptions %s: %w", p, err)
		}

		if len(rec) < 2 {
			continue
		}

		genome := strings.TrimSpace(rec[0])
		if genome == "" {
			continue
		}

		out[genome] = strings.TrimSpace(rec[1])
	}

	return out, nil
}
