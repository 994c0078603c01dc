package address

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/smsd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver maps raw participant addresses to the conversation that owns
// them, creating the conversation on first contact.
type Resolver struct {
	db     *store.DB
	logger *zap.Logger
	group  singleflight.Group
}

// NewResolver creates a new address resolver.
func NewResolver(db *store.DB, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve normalizes the addresses, filters out the caller's own numbers,
// and returns the owning conversation, creating it if none exists.
// Returns the conversation and whether a new row was created.
//
// Own-number filtering never empties the participant set: a self-addressed
// send keeps its original addresses so it still threads somewhere.
func (r *Resolver) Resolve(addresses, myNumbers []string, title string) (*store.Conversation, bool, error) {
	participants := filterOwn(addresses, myNumbers)
	if len(participants) == 0 {
		participants = dedupeAddresses(addresses)
	}
	if len(participants) == 0 {
		return nil, false, fmt.Errorf("resolve: no addresses")
	}

	if len(participants) == 1 {
		return r.resolveSingle(participants[0])
	}
	return r.resolveGroup(participants, title)
}

type resolved struct {
	conv    *store.Conversation
	created bool
}

func (r *Resolver) resolveSingle(addr string) (*store.Conversation, bool, error) {
	key := Matcher(addr)

	// Collapse concurrent resolve calls for the same key: the second
	// caller waits for the first instead of racing the create. The store's
	// partial unique index backstops callers on other processes.
	v, err, _ := r.group.Do(key, func() (any, error) {
		existing, err := r.db.FindConversationByMatcher(key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return resolved{existing, false}, nil
		}
		conv, created, err := r.db.CreateConversation(&store.Conversation{
			IDMatcher:       key,
			PhoneNumbers:    strings.TrimSpace(addr),
			Read:            true,
			SnippetMimeType: "text/plain",
		})
		if err != nil {
			return nil, err
		}
		return resolved{conv, created}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve %q: %w", key, err)
	}
	res := v.(resolved)
	if res.created {
		r.logger.Info("conversation created",
			zap.Int64("conversation_id", res.conv.ID),
			zap.String("matcher", key))
	}
	return res.conv, res.created, nil
}

func (r *Resolver) resolveGroup(participants []string, title string) (*store.Conversation, bool, error) {
	canonical := CanonicalJoin(participants)

	// Groups carry no matcher key, so the partial unique index cannot
	// backstop the create here. The singleflight on the canonical set is
	// the serialization point: the profile lock guarantees one daemon per
	// store, so collapsing in-process callers closes the race entirely.
	v, err, _ := r.group.Do("group:"+canonical, func() (any, error) {
		// Lookup goes by the order-independent participant set, then by
		// title when the caller supplied one.
		existing, err := r.db.FindGroupByNumbers(canonical)
		if err != nil {
			return nil, err
		}
		if existing == nil && title != "" {
			existing, err = r.db.FindGroupByTitle(title)
			if err != nil {
				return nil, err
			}
		}
		if existing != nil {
			return resolved{existing, false}, nil
		}

		conv, created, err := r.db.CreateConversation(&store.Conversation{
			PhoneNumbers:    canonical,
			Title:           title,
			Read:            true,
			SnippetMimeType: "text/plain",
		})
		if err != nil {
			return nil, err
		}
		return resolved{conv, created}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve group: %w", err)
	}
	res := v.(resolved)
	if res.created {
		r.logger.Info("group conversation created",
			zap.Int64("conversation_id", res.conv.ID),
			zap.Int("participants", len(participants)))
	}
	return res.conv, res.created, nil
}

// CanonicalJoin produces the stored participant list: trimmed addresses,
// deduplicated by matcher, sorted by matcher key so differently-ordered
// recipient lists land in the same group.
func CanonicalJoin(addresses []string) string {
	unique := dedupeAddresses(addresses)
	sort.Slice(unique, func(i, j int) bool {
		return Matcher(unique[i]) < Matcher(unique[j])
	})
	return strings.Join(unique, ", ")
}

// filterOwn removes addresses matching one of the caller's own numbers.
func filterOwn(addresses, myNumbers []string) []string {
	var out []string
	for _, addr := range dedupeAddresses(addresses) {
		own := false
		for _, mine := range myNumbers {
			if SameAddress(addr, mine) {
				own = true
				break
			}
		}
		if !own {
			out = append(out, addr)
		}
	}
	return out
}

// dedupeAddresses trims and removes matcher-equal duplicates, preserving
// first-seen order.
func dedupeAddresses(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	var out []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := Matcher(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}
