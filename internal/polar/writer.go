package polar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

const headerAoA = "AoA"

// WriteTable writes t as whitespace separated rows "angle lift drag",
// preceded by the header line "AoA Cl Cd".
func WriteTable(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(headerAoA + " Cl Cd\n"); err != nil {
		return err
	}

	buf := make([]byte, 0, 96)
	for i := range t.AoA {
		buf = buf[:0]
		buf = strconv.AppendFloat(buf, t.AoA[i], 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, t.Cl[i], 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, t.Cd[i], 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FileName returns the output file name for an airfoil at a Reynolds number.
func FileName(airfoil string, reynolds float64) string {
	return fmt.Sprintf("%s_%s.txt", airfoil, FormatReynolds(reynolds))
}

// FormatReynolds formats a Reynolds number without exponent notation.
func FormatReynolds(reynolds float64) string {
	return strconv.FormatFloat(reynolds, 'f', -1, 64)
}

// WriteFile writes t into dir under FileName(airfoil, reynolds) and returns
// the path written.
func WriteFile(dir, airfoil string, reynolds float64, t *Table) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	path := filepath.Join(dir, FileName(filepath.Base(airfoil), reynolds))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating polar file: %w", err)
	}
	if err := WriteTable(f, t); err != nil {
		f.Close()
		return "", fmt.Errorf("writing polar file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing polar file: %w", err)
	}
	return path, nil
}
