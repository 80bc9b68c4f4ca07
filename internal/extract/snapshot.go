package extract

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteSnapshot writes the processed rows as CSV with a header line.
func WriteSnapshot(path string, columns []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "extract: create snapshot dir")
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "extract: create snapshot")
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "extract: write snapshot header")
	}
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "extract: write snapshot rows")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "extract: close snapshot")
	}
	return nil
}
