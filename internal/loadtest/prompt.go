package loadtest

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

// LoadPrompt reads the prompt source file as lines
func LoadPrompt(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("prompt file %s is empty", path)
	}
	return lines, nil
}

// BuildPrompt joins the first n lines
func BuildPrompt(lines []string, n int) string {
	if n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[:n], "\n")
}

// Randomize draws from a normal distribution centered on average with a
// standard deviation of a tenth of it, truncated to an integer of at least 1.
func Randomize(rng *rand.Rand, average int) int {
	v := int(rng.NormFloat64()*0.1*float64(average) + float64(average))
	return max(1, v)
}
