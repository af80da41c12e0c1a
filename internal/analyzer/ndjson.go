package analyzer

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/studyengine/core/internal/domain"
)

// ReadEvents parses the combined attempts/sessions NDJSON log at path.
// Lines are distinguished by the presence of an "item_id" key (attempts
// only). A malformed or partially-written final line is skipped rather
// than failing the whole read, matching the append guarantee ingest
// makes: ordered, not fsync-guaranteed.
func ReadEvents(path string) ([]domain.AttemptEvent, []domain.SessionEvent, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var attempts []domain.AttemptEvent
	var sessions []domain.SessionEvent

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		if _, isAttempt := probe["item_id"]; isAttempt {
			var a domain.AttemptEvent
			if err := json.Unmarshal(line, &a); err == nil {
				attempts = append(attempts, a)
			}
			continue
		}
		var s domain.SessionEvent
		if err := json.Unmarshal(line, &s); err == nil {
			sessions = append(sessions, s)
		}
	}
	if err := scanner.Err(); err != nil && err != io.ErrUnexpectedEOF {
		return attempts, sessions, err
	}
	return attempts, sessions, nil
}
