package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Kestr3l/ChatRelay/internal/config"
	"github.com/Kestr3l/ChatRelay/internal/domain"
)

// toolSearchRepositories is the tool whose query argument needs repair before
// dispatch: some model completions emit a sort-only query that the downstream
// search endpoint rejects as invalid syntax.
const toolSearchRepositories = "search_repositories"

// Normalizer repairs and validates raw tool-call argument payloads before
// dispatch. It is stateless and safe for concurrent use.
type Normalizer struct {
	sortTokens  map[string]struct{}
	recencyDays int
	now         func() time.Time // for testing
}

// NewNormalizer creates a Normalizer from agent configuration.
func NewNormalizer(cfg *config.Agent) *Normalizer {
	tokens := make(map[string]struct{}, len(cfg.SortTokens))
	for _, t := range cfg.SortTokens {
		tokens[strings.ToLower(t)] = struct{}{}
	}
	return &Normalizer{
		sortTokens:  tokens,
		recencyDays: cfg.RecencyDays,
		now:         time.Now,
	}
}

// Normalize parses raw into generic JSON, applies tool-specific repair rules,
// and re-serializes. Malformed JSON fails with domain.ErrInvalidArguments;
// tools without repair rules pass through unchanged apart from the
// well-formedness check.
func (n *Normalizer) Normalize(toolName string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrInvalidArguments, toolName, err)
	}

	if toolName == toolSearchRepositories {
		if obj, ok := value.(map[string]any); ok {
			n.repairSearchQuery(obj)
		}
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrInvalidArguments, toolName, err)
	}
	return out, nil
}

// repairSearchQuery strips known sort-only tokens from the query and, when
// nothing meaningful remains, substitutes a recency filter so the call never
// reaches the invoker with an empty or sort-only query.
func (n *Normalizer) repairSearchQuery(args map[string]any) {
	query, _ := args["query"].(string)

	var kept []string
	for _, tok := range strings.Fields(query) {
		if _, drop := n.sortTokens[strings.ToLower(tok)]; drop {
			continue
		}
		kept = append(kept, tok)
	}

	repaired := strings.TrimSpace(strings.Join(kept, " "))
	if repaired == "" {
		repaired = n.defaultQuery()
	}
	args["query"] = repaired
}

// defaultQuery returns a query matching repositories pushed within the
// configured recency window ending now (UTC).
func (n *Normalizer) defaultQuery() string {
	cutoff := n.now().UTC().AddDate(0, 0, -n.recencyDays)
	return "pushed:>=" + cutoff.Format("2006-01-02")
}
