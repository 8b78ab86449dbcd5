// Package annotation reads batch files produced by the upstream
// named-entity extraction stage and turns them into normalized row sets.
// Parsing is pure: no side effects beyond reading the file.
package annotation

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// rawSentence mirrors one sentence object of the batch file. Mention and
// span lists for a given entity type are positionally aligned.
type rawSentence struct {
	Text        string              `json:"text"`
	Entities    map[string][]string `json:"entities"`
	EntitySpans map[string][][]int  `json:"entity_spans"`
}

type rawDocument struct {
	Title     *string       `json:"title"`
	Sentences []rawSentence `json:"sentences"`
}

// SkippedDocument records one document-scoped validation failure.
type SkippedDocument struct {
	ID     string
	Reason string
}

// ParseReport summarizes what a file parse accepted and rejected.
type ParseReport struct {
	Documents        int
	Sentences        int
	Occurrences      int
	SkippedDocuments []SkippedDocument
}

// ParseFile reads one batch file and produces the row sets for the bulk
// loader, derived fields zeroed. A document missing required fields is
// skipped and recorded; an unparsable top-level structure fails the whole
// file with ErrMalformedInput.
func ParseFile(path string) (store.ParsedBatch, ParseReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.ParsedBatch{}, ParseReport{}, err
	}
	return parse(data)
}

func parse(data []byte) (store.ParsedBatch, ParseReport, error) {
	var raw map[string]rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return store.ParsedBatch{}, ParseReport{}, fmt.Errorf("%w: %v", internalerr.ErrMalformedInput, err)
	}

	var batch store.ParsedBatch
	var report ParseReport
	typeSet := make(map[string]struct{})

	// object key order is not stable; sort for deterministic batches
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		doc := raw[key]
		docID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			report.skip(key, "document id is not an integer")
			continue
		}
		if doc.Title == nil {
			report.skip(key, "missing title")
			continue
		}
		if doc.Sentences == nil {
			report.skip(key, "missing sentences")
			continue
		}
		sents, types, err := parseSentences(docID, doc.Sentences)
		if err != nil {
			report.skip(key, err.Error())
			continue
		}

		batch.Documents = append(batch.Documents, store.Document{ID: docID, Title: *doc.Title})
		batch.Sentences = append(batch.Sentences, sents...)
		for name := range types {
			typeSet[name] = struct{}{}
		}
		report.Documents++
		report.Sentences += len(sents)
		for _, s := range sents {
			report.Occurrences += len(s.Occurrences)
		}
	}

	batch.EntityTypes = make([]string, 0, len(typeSet))
	for name := range typeSet {
		batch.EntityTypes = append(batch.EntityTypes, name)
	}
	sort.Strings(batch.EntityTypes)

	return batch, report, nil
}

func parseSentences(docID int64, raws []rawSentence) ([]store.ParsedSentence, map[string]struct{}, error) {
	sents := make([]store.ParsedSentence, 0, len(raws))
	types := make(map[string]struct{})

	for idx, rs := range raws {
		word, token, alpha := countText(rs.Text)
		sent := store.ParsedSentence{
			DocumentID: docID,
			Index:      idx,
			Text:       rs.Text,
			WordCount:  word,
			TokenCount: token,
			AlphaCount: alpha,
		}

		entityTypes := make([]string, 0, len(rs.Entities))
		for entityType := range rs.Entities {
			entityTypes = append(entityTypes, entityType)
		}
		sort.Strings(entityTypes)

		for _, entityType := range entityTypes {
			mentions := rs.Entities[entityType]
			spans := rs.EntitySpans[entityType]
			if len(spans) != len(mentions) {
				return nil, nil, fmt.Errorf("sentence %d: %d %q mentions but %d spans: %w",
					idx, len(mentions), entityType, len(spans), internalerr.ErrIncompleteRecord)
			}
			types[entityType] = struct{}{}
			for i, mention := range mentions {
				span := spans[i]
				if len(span) != 2 {
					return nil, nil, fmt.Errorf("sentence %d: span %d of %q has %d elements: %w",
						idx, i, entityType, len(span), internalerr.ErrIncompleteRecord)
				}
				sent.Occurrences = append(sent.Occurrences, store.ParsedOccurrence{
					EntityType: entityType,
					Text:       mention,
					SpanStart:  span[0],
					SpanEnd:    span[1],
				})
			}
		}
		sents = append(sents, sent)
	}
	return sents, types, nil
}

func (r *ParseReport) skip(id, reason string) {
	r.SkippedDocuments = append(r.SkippedDocuments, SkippedDocument{ID: id, Reason: reason})
}
