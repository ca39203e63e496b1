package gcode

import (
	"bufio"
	"io"
	"sync"
)

// ProgramReader yields the non-empty lines of a G-code program with comments stripped.
type ProgramReader struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	lineNum int
}

func NewProgramReader(r io.Reader) *ProgramReader {
	return &ProgramReader{
		scanner: bufio.NewScanner(r),
	}
}

// Next returns the next line and its 1-based line number in the source. It returns io.EOF
// once the program is exhausted.
func (pr *ProgramReader) Next() (string, int, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for pr.scanner.Scan() {
		pr.lineNum++
		line := StripComments(pr.scanner.Text())
		if line == "" || line == "%" {
			continue
		}
		return line, pr.lineNum, nil
	}
	if err := pr.scanner.Err(); err != nil {
		return "", pr.lineNum, err
	}
	return "", pr.lineNum, io.EOF
}
