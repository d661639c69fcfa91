package engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// toolCallHash identifies one collaborator invocation in the event log:
// the tool name, the request it was given, and the response it returned.
// Replays compare these to detect drifting collaborator behavior.
func toolCallHash(tool string, request, response []byte) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(request)
	h.Write([]byte{0})
	h.Write(response)
	return tool + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
