package services

import (
	"sort"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/signature"
)

// indelParams scores a substitution as a deletion plus an insertion, which
// turns the edit distance into the indel distance behind NameSimilarity.
var indelParams = levenshtein.NewParams().SubCost(2)

// NameSimilarity returns the normalized indel similarity of a and b in
// [0,1]: 1 - distance/(len(a)+len(b)), counted in runes. Two empty strings
// are identical.
func NameSimilarity(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 1
	}
	dist := levenshtein.Distance(a, b, indelParams)
	return float64(total-dist) / float64(total)
}

// MatchByNameType compares the qualified names "table.column" of two
// columns. The similarity counts only when the declared types are equal;
// differing types never match.
func MatchByNameType(tableA string, colA models.Column, tableB string, colB models.Column, threshold float64) bool {
	typeMatch := 0.0
	if colA.Type == colB.Type {
		typeMatch = 1.0
	}
	return typeMatch*NameSimilarity(tableA+"."+colA.ColumnName, tableB+"."+colB.ColumnName) >= threshold
}

// RelationshipMatcher infers relationships between the columns of
// different tables.
type RelationshipMatcher struct {
	logger *zap.Logger
}

// NewRelationshipMatcher creates a matcher.
func NewRelationshipMatcher(logger *zap.Logger) *RelationshipMatcher {
	return &RelationshipMatcher{logger: logger.Named("relationship_matcher")}
}

// MatchBySignature reports whether the estimated Jaccard similarity of the
// two columns' value sets reaches threshold. A column without a signature,
// an unreadable signature, or signatures of different sizes never match.
func (m *RelationshipMatcher) MatchBySignature(colA, colB models.Column, threshold float64) bool {
	if colA.Signature == nil || colB.Signature == nil {
		return false
	}
	a, err := signature.Decode(colA.Signature)
	if err != nil {
		m.logger.Warn("unreadable signature", zap.String("column", colA.ColumnName), zap.Error(err))
		return false
	}
	b, err := signature.Decode(colB.Signature)
	if err != nil {
		m.logger.Warn("unreadable signature", zap.String("column", colB.ColumnName), zap.Error(err))
		return false
	}
	return m.similar(a, b, threshold)
}

func (m *RelationshipMatcher) similar(a, b *signature.MinHash, threshold float64) bool {
	if a == nil || b == nil || a.IsEmpty() || b.IsEmpty() {
		return false
	}
	j, err := a.Jaccard(b)
	if err != nil {
		m.logger.Warn("signatures not comparable", zap.Error(err))
		return false
	}
	return j >= threshold
}

// Detect compares every column pair of every table pair that is not
// already linked by a foreign key, and returns one relationship per pair
// that satisfies approach. The larger table by row count is the primary
// side; tables with unknown row counts sort last, ties keep input order.
//
// Cost is O(T²·C²) column comparisons for T tables of C columns. Callers
// that need signature-based approaches must ensure signatures were
// computed; Detect itself does not check.
func (m *RelationshipMatcher) Detect(tables []models.Table, approach models.DetectApproach, signatureThreshold, nameThreshold float64) []models.Relationship {
	useName := approach == models.NameBased || approach == models.NameAndSignatureBased
	useSignature := approach.RequiresSignatures()

	linked := linkedPairs(tables)

	ordered := make([]*models.Table, len(tables))
	for i := range tables {
		ordered[i] = &tables[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RowCount() > ordered[j].RowCount()
	})

	var sigs map[*models.Column]*signature.MinHash
	if useSignature {
		sigs = m.decodeSignatures(ordered)
	}

	var found []models.Relationship
	for i, primary := range ordered {
		for ci := range primary.Columns {
			colA := &primary.Columns[ci]
			for _, foreign := range ordered[i+1:] {
				if linked[pairKey(primary.TableName, foreign.TableName)] {
					continue
				}
				for cj := range foreign.Columns {
					colB := &foreign.Columns[cj]

					if useName && !MatchByNameType(primary.TableName, *colA, foreign.TableName, *colB, nameThreshold) {
						continue
					}
					if useSignature && !m.similar(sigs[colA], sigs[colB], signatureThreshold) {
						continue
					}

					found = append(found, models.Relationship{
						ID:            models.RelationshipID(primary.TableName, colA.ColumnName, foreign.TableName, colB.ColumnName),
						PrimaryTable:  primary.TableName,
						PrimaryColumn: colA.ColumnName,
						ForeignTable:  foreign.TableName,
						ForeignColumn: colB.ColumnName,
						By:            string(approach),
					})
				}
			}
		}
	}

	m.logger.Debug("relationship detection finished",
		zap.String("approach", string(approach)),
		zap.Int("tables", len(tables)),
		zap.Int("relationships", len(found)))

	return found
}

// decodeSignatures decodes each column signature once. Columns without a
// readable signature are absent from the result.
func (m *RelationshipMatcher) decodeSignatures(tables []*models.Table) map[*models.Column]*signature.MinHash {
	out := make(map[*models.Column]*signature.MinHash)
	for _, t := range tables {
		for ci := range t.Columns {
			col := &t.Columns[ci]
			if col.Signature == nil {
				continue
			}
			sig, err := signature.Decode(col.Signature)
			if err != nil {
				m.logger.Warn("unreadable signature",
					zap.String("table", t.TableName),
					zap.String("column", col.ColumnName),
					zap.Error(err))
				continue
			}
			out[col] = sig
		}
	}
	return out
}

// MergeRelationships appends each relationship to the foreign keys of its
// primary table, skipping identifiers the table already has. Returns the
// number added.
func MergeRelationships(tables []models.Table, relationships []models.Relationship) int {
	index := make(map[string]int, len(tables))
	for i := range tables {
		index[tables[i].TableName] = i
	}

	added := 0
	for _, r := range relationships {
		i, ok := index[r.PrimaryTable]
		if !ok {
			continue
		}
		if hasRelationship(tables[i].ForeignKeys, r.ID) {
			continue
		}
		tables[i].ForeignKeys = append(tables[i].ForeignKeys, r)
		added++
	}
	return added
}

func hasRelationship(fks []models.Relationship, id string) bool {
	for _, fk := range fks {
		if fk.ID == id {
			return true
		}
	}
	return false
}

func linkedPairs(tables []models.Table) map[[2]string]bool {
	linked := make(map[[2]string]bool)
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			linked[pairKey(fk.PrimaryTable, fk.ForeignTable)] = true
		}
	}
	return linked
}

// pairKey is order-independent.
func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
