package routing

import (
	"bytes"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/longregen/toolrouter/internal/domain/models"
)

type fingerprintTool struct {
	ID          string         `msgpack:"id"`
	Name        string         `msgpack:"name"`
	Description string         `msgpack:"description"`
	Category    string         `msgpack:"category"`
	Tags        []string       `msgpack:"tags"`
	Schema      map[string]any `msgpack:"schema"`
}

type fingerprintConflict struct {
	Name     string `msgpack:"name"`
	Selected string `msgpack:"selected"`
	Strategy string `msgpack:"strategy"`
	Awaiting bool   `msgpack:"awaiting"`
}

type fingerprintDoc struct {
	Tools        []fingerprintTool     `msgpack:"tools"`
	Alternatives []string              `msgpack:"alternatives"`
	Conflicts    []fingerprintConflict `msgpack:"conflicts"`
}

// Fingerprint hashes the content of a resolved catalog. Usage statistics and
// timestamps are left out, so only changes in what is offered alter it.
// The input slices must be in canonical order, which Resolver guarantees.
func Fingerprint(selected, alternatives []models.UnifiedTool, conflicts []models.ToolConflict) (string, error) {
	doc := fingerprintDoc{
		Tools:        make([]fingerprintTool, 0, len(selected)),
		Alternatives: make([]string, 0, len(alternatives)),
		Conflicts:    make([]fingerprintConflict, 0, len(conflicts)),
	}
	for _, t := range selected {
		doc.Tools = append(doc.Tools, fingerprintTool{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			Tags:        t.Tags,
			Schema:      t.InputSchema,
		})
	}
	for _, t := range alternatives {
		doc.Alternatives = append(doc.Alternatives, t.ID)
	}
	for _, c := range conflicts {
		doc.Conflicts = append(doc.Conflicts, fingerprintConflict{
			Name:     c.Name,
			Selected: c.SelectedToolID,
			Strategy: string(c.Strategy),
			Awaiting: c.AwaitingUser,
		})
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(buf.Bytes()), 16), nil
}
