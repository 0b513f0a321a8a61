package workflow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// Fingerprint returns a blake3 hash of the final graph's JSON form, recorded
// in the job's event log so two runs that submitted "the same" workflow can
// be correlated without storing the full graph twice.
func Fingerprint(g model.Graph) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("workflow: failed to marshal graph for fingerprint: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
