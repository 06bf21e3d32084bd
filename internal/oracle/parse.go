package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

// ParseExtraction decodes an extraction reply. Replies wrapped in a Markdown fence or
// surrounded by prose are accepted as long as they contain one JSON object.
func ParseExtraction(reply string) (tender.Extraction, error) {
	var ext tender.Extraction
	for _, candidate := range jsonCandidates(reply) {
		if err := json.Unmarshal([]byte(candidate), &ext); err == nil {
			if ext.TotalExtracted == 0 {
				ext.TotalExtracted = len(ext.Candidates)
			}
			return ext, nil
		}
	}
	return tender.Extraction{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
}

func jsonCandidates(reply string) []string {
	reply = strings.TrimSpace(reply)
	out := []string{reply}
	if i := strings.Index(reply, "```"); i >= 0 {
		rest := reply[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			out = append(out, strings.TrimSpace(rest[:j]))
		}
	}
	if i, j := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); i >= 0 && j > i {
		out = append(out, reply[i:j+1])
	}
	return out
}
