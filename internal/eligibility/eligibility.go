/*
Package eligibility answers two questions about an exchange subject: is it in
the derivatives (F&O) segment, and which tracked indices contain it.

The F&O list is loaded once at startup. Index membership is refreshed from the
index provider's CSV files through a disk cache (see MembershipLoader).
*/
package eligibility

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Stock is one row of the F&O eligibility file.
type Stock struct {
	NSESymbol   string `json:"nse_symbol"`
	CompanyName string `json:"company_name"`
	ISIN        string `json:"isin"`
	BSECode     string `json:"bse_code"`
	Sector      string `json:"sector"`
}

type stocksFile struct {
	Stocks []Stock `json:"stocks"`
}

// LoadStocks reads the F&O eligibility file.
func LoadStocks(path string) ([]Stock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read eligibility file %s: %w", path, err)
	}

	var f stocksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse eligibility file %s: %w", path, err)
	}
	return f.Stocks, nil
}

// Index joins the F&O set with index membership. Safe for concurrent use.
type Index struct {
	mu           sync.RWMutex
	bseCodes     map[string]struct{}
	nseSymbols   map[string]struct{}
	codeToSymbol map[string]string
	names        map[string]string
	membership   map[string]map[string]struct{} // index name -> symbols
}

func NewIndex(stocks []Stock) *Index {
	ix := &Index{
		bseCodes:     make(map[string]struct{}, len(stocks)),
		nseSymbols:   make(map[string]struct{}, len(stocks)),
		codeToSymbol: make(map[string]string, len(stocks)),
		names:        make(map[string]string, len(stocks)),
		membership:   make(map[string]map[string]struct{}),
	}

	for _, s := range stocks {
		symbol := strings.ToUpper(strings.TrimSpace(s.NSESymbol))
		code := strings.TrimSpace(s.BSECode)
		if symbol != "" {
			ix.nseSymbols[symbol] = struct{}{}
			ix.names[symbol] = s.CompanyName
		}
		// Empty BSE codes are tolerated; the stock is then reachable by symbol only.
		if code != "" {
			ix.bseCodes[code] = struct{}{}
			ix.names[code] = s.CompanyName
			if symbol != "" {
				ix.codeToSymbol[code] = symbol
			}
		}
	}

	return ix
}

// Len is the number of F&O stocks known by BSE code or NSE symbol.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nseSymbols)
}

// IsEligible reports whether the subject (a BSE code or an NSE symbol) is in the F&O set.
func (ix *Index) IsEligible(subjectID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	id := strings.TrimSpace(subjectID)
	if _, ok := ix.bseCodes[id]; ok {
		return true
	}
	_, ok := ix.nseSymbols[strings.ToUpper(id)]
	return ok
}

// Symbol resolves a subject to its NSE symbol.
func (ix *Index) Symbol(subjectID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.symbolLocked(subjectID)
}

func (ix *Index) symbolLocked(subjectID string) (string, bool) {
	id := strings.TrimSpace(subjectID)
	if sym, ok := ix.codeToSymbol[id]; ok {
		return sym, true
	}
	upper := strings.ToUpper(id)
	if _, ok := ix.nseSymbols[upper]; ok {
		return upper, true
	}
	return "", false
}

// CompanyName returns the eligibility file's name for a subject, if any.
func (ix *Index) CompanyName(subjectID string) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id := strings.TrimSpace(subjectID)
	if n, ok := ix.names[id]; ok {
		return n
	}
	return ix.names[strings.ToUpper(id)]
}

// SetMembership replaces the constituents of one tracked index.
func (ix *Index) SetMembership(indexName string, symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}

	ix.mu.Lock()
	ix.membership[strings.ToUpper(indexName)] = set
	ix.mu.Unlock()
}

// Categories lists the tracked indices containing the subject, sorted.
// Subjects the F&O set cannot map to a symbol have no categories.
func (ix *Index) Categories(subjectID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	symbol, ok := ix.symbolLocked(subjectID)
	if !ok {
		return nil
	}

	var cats []string
	for name, members := range ix.membership {
		if _, in := members[symbol]; in {
			cats = append(cats, name)
		}
	}
	sort.Strings(cats)
	return cats
}

// Qualifies is true when the subject is F&O eligible and belongs to at least
// one of the wanted indices.
func (ix *Index) Qualifies(subjectID string, wanted []string) bool {
	if !ix.IsEligible(subjectID) {
		return false
	}
	return Intersects(ix.Categories(subjectID), wanted)
}

// Intersects reports whether any category is in wanted, case-insensitively.
func Intersects(categories, wanted []string) bool {
	for _, c := range categories {
		for _, w := range wanted {
			if strings.EqualFold(c, w) {
				return true
			}
		}
	}
	return false
}
