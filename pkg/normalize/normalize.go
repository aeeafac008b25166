// Package normalize implements the Portal-string-to-canonical-form
// rules of spec §4.8: trimming, integer parsing, date parsing from the
// Portal's DD/MM/YYYY[ HH:MM[:SS]] format, and the canonical-binnacle
// content hash used for change detection.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

// portalDateLayouts are tried in order; the Portal emits dates with or
// without a time component, and with or without seconds.
var portalDateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// RawBinnacle is one Binnacle entry exactly as extracted from the
// Portal, before any normalization: every field is the literal string
// (or absence) the page rendered.
type RawBinnacle struct {
	Index              int
	ResolutionDate     string
	EntryDate          string
	Resolution         string
	NotificationType   string
	Acto               string
	Fojas              string
	Folios             string
	ProvedioDate       string
	Sumilla            string
	UserDescription    string
	NotificationCount  int
}

// Normalizer applies spec §4.8's rules in a single configured IANA
// timezone, used for every "now" stamp and every parsed date.
type Normalizer struct {
	Location *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{Location: loc}
}

// TrimOrNull trims s; an empty or whitespace-only result becomes nil.
func TrimOrNull(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ParseIntOrNull parses s as a base-10 integer; a parse failure (or
// empty input) becomes nil rather than an error, per spec §4.8.
func ParseIntOrNull(s string) *int {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil
	}
	return &n
}

// ParseDate parses s from the Portal's DD/MM/YYYY[ HH:MM[:SS]] format
// in n's configured location. The literal "-" and any unparseable
// value become nil, not an error.
func (n *Normalizer) ParseDate(s string) *time.Time {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "-" {
		return nil
	}
	for _, layout := range portalDateLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, n.Location); err == nil {
			return &t
		}
	}
	return nil
}

// NormalizeBinnacle converts a RawBinnacle into its persistence-ready
// domain.Binnacle. CaseFileID and ProceduralStageRef are set by the
// caller, since the Portal extraction does not carry them directly.
func (n *Normalizer) NormalizeBinnacle(raw RawBinnacle) domain.Binnacle {
	return domain.Binnacle{
		Index:            raw.Index,
		ResolutionDate:   n.ParseDate(raw.ResolutionDate),
		EntryDate:        n.ParseDate(raw.EntryDate),
		Acto:             TrimOrNull(raw.Acto),
		Fojas:            ParseIntOrNull(raw.Fojas),
		Folios:           ParseIntOrNull(raw.Folios),
		ProvedioDate:     n.ParseDate(raw.ProvedioDate),
		Sumilla:          TrimOrNull(raw.Sumilla),
		UserDescription:  TrimOrNull(raw.UserDescription),
		NotificationType: TrimOrNull(raw.NotificationType),
	}
}

// Canonical builds the hash- and diff-stable projection of a raw
// Binnacle plus its notification count (spec §4.8). notificationCount
// is |notifications| and participates in the hash so an added
// notification changes the content hash even when every other field
// is unchanged.
func (n *Normalizer) Canonical(raw RawBinnacle, notificationCount int) domain.CanonicalBinnacle {
	return domain.CanonicalBinnacle{
		Index:             raw.Index,
		ResolutionDate:    isoOrNil(n.ParseDate(raw.ResolutionDate)),
		EntryDate:         isoOrNil(n.ParseDate(raw.EntryDate)),
		Resolution:        TrimOrNull(raw.Resolution),
		NotificationType:  TrimOrNull(raw.NotificationType),
		Acto:              TrimOrNull(raw.Acto),
		Fojas:             ParseIntOrNull(raw.Fojas),
		Folios:            ParseIntOrNull(raw.Folios),
		ProvedioDate:      isoOrNil(n.ParseDate(raw.ProvedioDate)),
		Sumilla:           TrimOrNull(raw.Sumilla),
		UserDescription:   TrimOrNull(raw.UserDescription),
		NotificationCount: notificationCount,
	}
}

func isoOrNil(t *time.Time) *string {
	if t == nil {
		return nil
	}
	iso := t.Format(time.RFC3339)
	return &iso
}

// Hasher computes the spec §4.8 content hash over a canonical
// binnacle sequence: sort by Index ascending, serialize with a fixed
// field order, SHA-256 over the UTF-8 byte stream.
type Hasher struct{}

func NewHasher() *Hasher { return &Hasher{} }

// Hash returns the 64-char lowercase hex SHA-256 digest of binnacles.
// It does not mutate its input; ordering of the result is independent
// of the input slice's order (sorted by Index before serializing), so
// hash(permutation(L)) == hash(L).
func (h *Hasher) Hash(binnacles []domain.CanonicalBinnacle) (string, error) {
	sorted := make([]domain.CanonicalBinnacle, len(binnacles))
	copy(sorted, binnacles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	payload, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
