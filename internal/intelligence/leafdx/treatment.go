package leafdx

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/LeafSight/pkg/errors"
)

//go:embed data/treatments.csv
var defaultTreatmentCSV []byte

// Treatment is the advisory text for one label.
type Treatment struct {
	Symptoms   string `json:"symptoms"`
	Treatment  string `json:"treatment"`
	Prevention string `json:"prevention"`
}

// MatchKind reports how a label was resolved.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchContains MatchKind = "contains"
	MatchGeneric  MatchKind = "generic"
)

// TreatmentTable is an immutable index of treatments by normalised label.
type TreatmentTable struct {
	entries map[string]Treatment
	// keys sorted by descending length, then lexically, so the longest key
	// wins partial matches deterministically.
	keys []string
}

// NormalizeLabel lower-cases and trims s and folds spaces and hyphens to "_".
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// NewTreatmentTable builds a table from label → treatment.
func NewTreatmentTable(entries map[string]Treatment) *TreatmentTable {
	t := &TreatmentTable{entries: make(map[string]Treatment, len(entries))}
	for k, v := range entries {
		nk := NormalizeLabel(k)
		if nk == "" {
			continue
		}
		t.entries[nk] = v
	}
	t.keys = make([]string, 0, len(t.entries))
	for k := range t.entries {
		t.keys = append(t.keys, k)
	}
	sort.Slice(t.keys, func(i, j int) bool {
		if len(t.keys[i]) != len(t.keys[j]) {
			return len(t.keys[i]) > len(t.keys[j])
		}
		return t.keys[i] < t.keys[j]
	})
	return t
}

// LoadTreatmentCSV parses a CSV with a header naming disease_name, symptoms,
// treatment and prevention columns (any order). Later rows override earlier
// ones with the same label.
func LoadTreatmentCSV(r io.Reader) (*TreatmentTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTreatmentLoadFailed, "failed to read treatment header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	nameIdx, ok := col["disease_name"]
	if !ok {
		return nil, errors.New(errors.ErrCodeTreatmentLoadFailed, "treatment csv has no disease_name column")
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	entries := make(map[string]Treatment)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTreatmentLoadFailed, "malformed treatment row").
				WithDetail(fmt.Sprintf("line=%d", line))
		}
		if nameIdx >= len(rec) || strings.TrimSpace(rec[nameIdx]) == "" {
			continue
		}
		entries[rec[nameIdx]] = Treatment{
			Symptoms:   field(rec, "symptoms"),
			Treatment:  field(rec, "treatment"),
			Prevention: field(rec, "prevention"),
		}
	}
	return NewTreatmentTable(entries), nil
}

// LoadTreatmentFile reads a treatment CSV from disk.
func LoadTreatmentFile(path string) (*TreatmentTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTreatmentLoadFailed, "failed to open treatment table").
			WithDetail("path=" + path)
	}
	defer f.Close()
	return LoadTreatmentCSV(f)
}

var (
	defaultTreatmentsOnce sync.Once
	defaultTreatments     *TreatmentTable
)

// DefaultTreatments returns the table embedded in the binary.
func DefaultTreatments() *TreatmentTable {
	defaultTreatmentsOnce.Do(func() {
		t, err := LoadTreatmentCSV(bytes.NewReader(defaultTreatmentCSV))
		if err != nil {
			panic(fmt.Sprintf("leafdx: embedded treatment table is invalid: %v", err))
		}
		defaultTreatments = t
	})
	return defaultTreatments
}

// Len returns the number of entries.
func (t *TreatmentTable) Len() int { return len(t.entries) }

// Lookup resolves label without the generic fallback.
func (t *TreatmentTable) Lookup(label string) (Treatment, MatchKind, bool) {
	key := NormalizeLabel(label)
	if key == "" {
		return Treatment{}, MatchGeneric, false
	}
	if tr, ok := t.entries[key]; ok {
		return tr, MatchExact, true
	}
	for _, k := range t.keys {
		if strings.HasPrefix(key, k) || strings.HasPrefix(k, key) {
			return t.entries[k], MatchPrefix, true
		}
	}
	for _, k := range t.keys {
		if strings.Contains(key, k) || strings.Contains(k, key) {
			return t.entries[k], MatchContains, true
		}
	}
	return Treatment{}, MatchGeneric, false
}

// Resolve returns the treatment for label, falling back to generic advice
// quoting displayConfidence when nothing matches.
func (t *TreatmentTable) Resolve(label string, displayConfidence float64) (Treatment, MatchKind) {
	if t != nil {
		if tr, kind, ok := t.Lookup(label); ok {
			return tr, kind
		}
	}
	return GenericTreatment(displayConfidence), MatchGeneric
}

// GenericTreatment is the advice used when a label has no table entry.
func GenericTreatment(displayConfidence float64) Treatment {
	return Treatment{
		Symptoms:   fmt.Sprintf("Disease pattern detected with %.1f%% confidence", displayConfidence*100),
		Treatment:  "Consult with agricultural expert for proper treatment",
		Prevention: "Implement integrated pest management practices",
	}
}
