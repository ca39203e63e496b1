package gcode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	iFmt "github.com/fornellas/mgs/internal/fmt"
)

var ErrUnknownWord = errors.New("unknown word")

// Word may either give a command or provide an argument to a command.
type Word struct {
	letter rune
	number float64
}

// NewWord creates a Word from given letter and number.
// letter must be capitalised, or it'll panic.
func NewWord(letter rune, number float64) *Word {
	if letter < 'A' || letter > 'Z' {
		panic(fmt.Sprintf("bug: attempting to create word with letter not between A-Z: %c", letter))
	}
	return &Word{letter: letter, number: number}
}

func (w *Word) Letter() rune {
	return w.letter
}

func (w *Word) Number() float64 {
	return w.number
}

// String uses single point float precision for commands and up to 4 points precision for
// arguments, trailing zeros removed.
func (w *Word) String() string {
	if w.IsCommand() {
		int, frac := math.Modf(w.number)
		if frac == 0 {
			return fmt.Sprintf("%c%.0f", w.letter, int)
		}
		return fmt.Sprintf("%c%.1f", w.letter, w.number)
	}
	return fmt.Sprintf("%c%s", w.letter, iFmt.SprintCoordinate(w.number))
}

// IsCommand returns true if the word is a command (letter G or M).
func (w *Word) IsCommand() bool {
	return w.letter == 'G' || w.letter == 'M'
}

// Block is a single line sent to the firmware.
type Block struct {
	words []*Word
}

func NewBlock(words ...*Word) *Block {
	return &Block{words: words}
}

// ParseBlock parses a line such as "G1 X10 F100" or "G1X10F100". Comments must have been removed.
func ParseBlock(line string) (*Block, error) {
	block := &Block{}
	runes := []rune(line)
	for i := 0; i < len(runes); {
		r := runes[i]
		if unicode.IsSpace(r) {
			i++
			continue
		}
		if !unicode.IsLetter(r) {
			return nil, fmt.Errorf("%w: %#v: unexpected %#v", ErrUnknownWord, line, string(r))
		}
		letter := unicode.ToUpper(r)
		i++
		start := i
		for i < len(runes) && (unicode.IsDigit(runes[i]) || strings.ContainsRune("+-.", runes[i])) {
			i++
		}
		number, err := strconv.ParseFloat(string(runes[start:i]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %#v: bad number for %c", ErrUnknownWord, line, letter)
		}
		block.words = append(block.words, NewWord(letter, number))
	}
	return block, nil
}

func (b *Block) AppendWords(words ...*Word) {
	b.words = append(b.words, words...)
}

// String joins words with a single space, the way the firmware dialect expects them.
func (b *Block) String() string {
	strs := make([]string, len(b.words))
	for i, w := range b.words {
		strs[i] = w.String()
	}
	return strings.Join(strs, " ")
}

// Commands returns all G/M words in the block.
func (b *Block) Commands() []*Word {
	var cmds []*Word
	for _, w := range b.words {
		if w.IsCommand() {
			cmds = append(cmds, w)
		}
	}
	return cmds
}

// Arguments returns all non-command words in the block.
func (b *Block) Arguments() []*Word {
	var args []*Word
	for _, w := range b.words {
		if !w.IsCommand() {
			args = append(args, w)
		}
	}
	return args
}

// GetArgumentNumber returns the number for the argument with the given letter, or nil if absent.
func (b *Block) GetArgumentNumber(letter rune) (*float64, error) {
	var number *float64
	for _, w := range b.Arguments() {
		if w.Letter() == letter {
			if number != nil {
				return nil, fmt.Errorf("%s: multiple arguments for letter %c", b, letter)
			}
			n := w.Number()
			number = &n
		}
	}
	return number, nil
}

// Empty returns true if the block has no words.
func (b *Block) Empty() bool {
	return len(b.words) == 0
}
