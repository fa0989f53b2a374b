package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxStoredErrors bounds the per-line errors kept in a ParseResult.
const maxStoredErrors = 10

// ParseResult contains messages and any errors encountered during parsing.
type ParseResult struct {
	Messages   []Message
	ErrorCount int
	Errors     []ParseError
}

// ParseError represents a parsing error at a specific line.
type ParseError struct {
	Line  int
	Error string
}

// ReadJSONLFile reads a JSONL history file, one message per line.
func ReadJSONLFile(path string) (*ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()
	return ReadJSONL(file)
}

// ReadJSONL reads messages from r, one JSON object per line.
// Returns partial results on parse errors rather than failing completely.
func ReadJSONL(r io.Reader) (*ParseResult, error) {
	result := &ParseResult{
		Messages: make([]Message, 0),
		Errors:   make([]ParseError, 0),
	}
	scanner := bufio.NewScanner(r)

	// Increase buffer size for large tool results
	const maxScanTokenSize = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			result.ErrorCount++
			if len(result.Errors) < maxStoredErrors {
				result.Errors = append(result.Errors, ParseError{
					Line:  lineNum,
					Error: fmt.Sprintf("JSON parse error: %v", err),
				})
			}
			continue
		}
		if msg.Role == "" {
			result.ErrorCount++
			if len(result.Errors) < maxStoredErrors {
				result.Errors = append(result.Errors, ParseError{
					Line:  lineNum,
					Error: "message has no role",
				})
			}
			continue
		}
		result.Messages = append(result.Messages, msg)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning input: %w", err)
	}

	return result, nil
}

// WriteJSONL writes messages to w, one JSON object per line.
func WriteJSONL(w io.Writer, messages []Message) error {
	enc := json.NewEncoder(w)
	for i, m := range messages {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding message %d: %w", i, err)
		}
	}
	return nil
}
