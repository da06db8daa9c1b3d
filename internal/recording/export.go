package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/marks"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/rutcapture"
)

// Format specifies the session export file format.
type Format string

const (
	FormatJSON      Format = "json"
	FormatJSONLines Format = "jsonl"
)

// filePermissions for exported session files.
const filePermissions = 0600

// exportVersion is the current export format version.
const exportVersion = "1.0"

// SessionExport is a self-contained artifact for replaying or auditing one
// finished call without access to the live telephony session: the Audio
// Mark Ledger's full trace, plus the RUT Capture Orchestrator's final
// state, per the batch-debugging need a continuous recording exists for.
type SessionExport struct {
	Metadata   Metadata          `json:"metadata"`
	Marks      []marks.Mark      `json:"marks"`
	RUTCapture rutcapture.CaptureState `json:"rut_capture"`
}

// Metadata carries call-level information about the exported session.
type Metadata struct {
	LinkedID   string    `json:"linked_id"`
	ANI        string    `json:"ani,omitempty"`
	DNIS       string    `json:"dnis,omitempty"`
	MarkCount  int       `json:"mark_count"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// Export builds a SessionExport from a call's Audio Mark Ledger and its RUT
// Capture Orchestrator's final snapshot.
func Export(linkedID, ani, dnis string, ledger *marks.Ledger, orch *rutcapture.Orchestrator) *SessionExport {
	allMarks := ledger.All()
	return &SessionExport{
		Metadata: Metadata{
			LinkedID:  linkedID,
			ANI:       ani,
			DNIS:      dnis,
			MarkCount: len(allMarks),
			Version:   exportVersion,
			CreatedAt: time.Now(),
		},
		Marks:      allMarks,
		RUTCapture: orch.Snapshot(),
	}
}

// SaveTo writes the export to path in the given format.
func (e *SessionExport) SaveTo(path string, format Format) error {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(e, "", "  ")
	case FormatJSONLines:
		data, err = e.marshalJSONLines()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// marshalJSONLines writes metadata on the first line, the RUT capture
// snapshot on the second, and one mark per subsequent line — streamable,
// one record per line.
func (e *SessionExport) marshalJSONLines() ([]byte, error) {
	var result []byte

	metaLine, err := json.Marshal(map[string]any{"type": "metadata", "metadata": e.Metadata})
	if err != nil {
		return nil, err
	}
	result = append(append(result, metaLine...), '\n')

	captureLine, err := json.Marshal(map[string]any{"type": "rut_capture", "rut_capture": e.RUTCapture})
	if err != nil {
		return nil, err
	}
	result = append(append(result, captureLine...), '\n')

	for _, m := range e.Marks {
		markLine, err := json.Marshal(map[string]any{"type": "mark", "mark": m})
		if err != nil {
			return nil, err
		}
		result = append(append(result, markLine...), '\n')
	}
	return result, nil
}

// Load reads a session export back from a JSON file.
func Load(path string) (*SessionExport, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied, not request-derived
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var exp SessionExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("unmarshal export: %w", err)
	}
	return &exp, nil
}
