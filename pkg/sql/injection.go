// Package sql screens user-supplied identifiers before they are spliced into
// catalog and data queries against source systems.
package sql

import (
	"fmt"
	"strings"
	"unicode"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/new-bakery/nga/pkg/models"
)

// InjectionCheckResult describes an identifier that failed screening.
type InjectionCheckResult struct {
	Kind        string // "table" or "column"
	Identifier  string
	Fingerprint string // libinjection fingerprint, empty for structural rejections
	Reason      string
}

func (r *InjectionCheckResult) String() string {
	if r.Fingerprint != "" {
		return fmt.Sprintf("%s %q looks like SQL injection (fingerprint %s)", r.Kind, r.Identifier, r.Fingerprint)
	}
	return fmt.Sprintf("%s %q %s", r.Kind, r.Identifier, r.Reason)
}

// CheckIdentifierForInjection screens one identifier. Returns nil when the
// identifier is acceptable.
//
// Identifiers are always quoted by the backends, so the screen only rejects
// values that cannot be legitimate names: control characters, statement
// terminators, comment openers, and anything libinjection fingerprints.
func CheckIdentifierForInjection(kind, identifier string) *InjectionCheckResult {
	for _, r := range identifier {
		if unicode.IsControl(r) {
			return &InjectionCheckResult{Kind: kind, Identifier: identifier, Reason: "contains control characters"}
		}
	}
	for _, token := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(identifier, token) {
			return &InjectionCheckResult{Kind: kind, Identifier: identifier, Reason: fmt.Sprintf("contains %q", token)}
		}
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(identifier); isSQLi {
		return &InjectionCheckResult{Kind: kind, Identifier: identifier, Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckEntities screens every table and column name of the given entities.
func CheckEntities(tables []models.Table) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, t := range tables {
		if r := CheckIdentifierForInjection("table", t.TableName); r != nil {
			results = append(results, r)
		}
		for _, c := range t.Columns {
			if r := CheckIdentifierForInjection("column", c.ColumnName); r != nil {
				results = append(results, r)
			}
		}
	}
	return results
}
