// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the chat pipeline stages: attachment
// extraction, context retrieval, history compaction, streamed generation,
// and conversation metadata finalization. Handlers orchestrate these; the
// stages themselves are HTTP-free.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/observability"
)

const (
	// vectorCandidatePool is how many candidates the vector search pulls
	// before the top results are kept.
	vectorCandidatePool = 100

	// maxExams caps how many exams contribute context.
	maxExams = 5

	// maxQuestionsPerExam caps refined questions per exam.
	maxQuestionsPerExam = 3

	// maxKeywords bounds the keyword fallback query.
	maxKeywords = 5

	// minKeywordLen filters out short stopword-ish tokens.
	minKeywordLen = 4
)

// VectorSearchFunc runs a nearVector search over the exam corpus.
type VectorSearchFunc func(ctx context.Context, vector []float32, pool, keep int) ([]datatypes.ExamHit, error)

// KeywordSearchFunc runs a keyword filter search over the exam corpus.
type KeywordSearchFunc func(ctx context.Context, keywords []string, limit int) ([]datatypes.ExamHit, error)

// Retriever finds exam context for a chat message.
//
// # Description
//
// The primary path embeds the message and runs a vector search; any failure
// there (embedding, search, zero hits) silently falls back to a keyword
// Like-filter search. Retrieval never fails the chat request: the worst
// outcome is an empty context slice.
//
// Search backends are injected as function types so tests can exercise the
// fallback ladder without Weaviate.
type Retriever struct {
	vectorSearch  VectorSearchFunc
	keywordSearch KeywordSearchFunc
}

// NewRetriever creates a Retriever with explicit search functions.
func NewRetriever(vector VectorSearchFunc, keyword KeywordSearchFunc) *Retriever {
	return &Retriever{vectorSearch: vector, keywordSearch: keyword}
}

// NewWeaviateRetriever creates a Retriever backed by a Weaviate client.
func NewWeaviateRetriever(client *weaviate.Client) *Retriever {
	return &Retriever{
		vectorSearch:  weaviateVectorSearch(client),
		keywordSearch: weaviateKeywordSearch(client),
	}
}

// Retrieve returns refined context for the message, or nil. The llm client
// supplies the embedding; it belongs to the request because the API key
// does.
func (r *Retriever) Retrieve(ctx context.Context, message string, client llm.Client) []datatypes.ContextItem {
	pattern := keywordPattern(message)

	hits, err := r.vectorRetrieve(ctx, message, client)
	if err != nil {
		slog.Warn("vector retrieval failed, falling back to keyword search", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRetrievalFallback()
		}
		hits, err = r.keywordRetrieve(ctx, message)
		if err != nil {
			slog.Warn("keyword retrieval failed, continuing without context", "error", err)
			return nil
		}
	}

	return refineHits(hits, pattern)
}

func (r *Retriever) vectorRetrieve(ctx context.Context, message string, client llm.Client) ([]datatypes.ExamHit, error) {
	vector, err := client.Embed(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.vectorSearch(ctx, vector, vectorCandidatePool, maxExams)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("vector search returned no hits")
	}
	return hits, nil
}

func (r *Retriever) keywordRetrieve(ctx context.Context, message string) ([]datatypes.ExamHit, error) {
	keywords := extractKeywords(message)
	if len(keywords) == 0 {
		return nil, fmt.Errorf("no usable keywords in message")
	}
	return r.keywordSearch(ctx, keywords, maxExams)
}

// extractKeywords pulls up to maxKeywords tokens longer than three
// characters from the message, in order of appearance. Length is counted
// in runes so accented words are measured like their ASCII equivalents.
func extractKeywords(message string) []string {
	var keywords []string
	for _, tok := range strings.Fields(message) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if utf8.RuneCountInString(tok) < minKeywordLen {
			continue
		}
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// keywordPattern builds a case-insensitive alternation over the message
// keywords, for refining exam questions. Returns nil when the message has
// no usable keywords.
func keywordPattern(message string) *regexp.Regexp {
	keywords := extractKeywords(message)
	if len(keywords) == 0 {
		return nil
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	re, err := regexp.Compile("(?i)" + strings.Join(quoted, "|"))
	if err != nil {
		// QuoteMeta makes this unreachable, but a nil pattern just
		// disables refinement rather than dropping context.
		slog.Warn("failed to compile keyword pattern", "error", err)
		return nil
	}
	return re
}

// refineHits turns exam hits into per-question context items: questions
// matching the pattern, else the first few, capped per exam and overall.
func refineHits(hits []datatypes.ExamHit, pattern *regexp.Regexp) []datatypes.ContextItem {
	if len(hits) > maxExams {
		hits = hits[:maxExams]
	}

	var items []datatypes.ContextItem
	for _, hit := range hits {
		selected := hit.Questions
		if pattern != nil {
			var matched []datatypes.ExamQuestion
			for _, q := range hit.Questions {
				if pattern.MatchString(q.Text) || pattern.MatchString(q.Explanation) {
					matched = append(matched, q)
				}
			}
			if len(matched) > 0 {
				selected = matched
			}
		}
		if len(selected) > maxQuestionsPerExam {
			selected = selected[:maxQuestionsPerExam]
		}

		for _, q := range selected {
			items = append(items, datatypes.ContextItem{
				ExamID:      hit.ExamID,
				ExamTitle:   hit.Title,
				QuestionID:  q.QuestionID,
				Text:        q.Text,
				Answer:      q.Answer,
				Explanation: q.Explanation,
				Score:       hit.Score,
			})
		}
	}
	return items
}

// =============================================================================
// Weaviate-backed search functions
// =============================================================================

func examFields() []graphql.Field {
	return []graphql.Field{
		{Name: "exam_id"},
		{Name: "title"},
		{Name: "questions_json"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "distance"},
		}},
	}
}

func weaviateVectorSearch(client *weaviate.Client) VectorSearchFunc {
	return func(ctx context.Context, vector []float32, pool, keep int) ([]datatypes.ExamHit, error) {
		nearVector := client.GraphQL().NearVectorArgBuilder().
			WithVector(vector)

		result, err := client.GraphQL().Get().
			WithClassName(datatypes.ExamClassName).
			WithFields(examFields()...).
			WithNearVector(nearVector).
			WithLimit(pool).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("weaviate nearVector query failed: %w", err)
		}

		parsed, err := datatypes.ParseGraphQLResponse[datatypes.ExamQueryResponse](result)
		if err != nil {
			return nil, fmt.Errorf("failed to parse exam results: %w", err)
		}

		hits := parsed.ToHits()
		if len(hits) > keep {
			hits = hits[:keep]
		}
		return hits, nil
	}
}

func weaviateKeywordSearch(client *weaviate.Client) KeywordSearchFunc {
	return func(ctx context.Context, keywords []string, limit int) ([]datatypes.ExamHit, error) {
		operands := make([]*filters.WhereBuilder, 0, len(keywords)*2)
		for _, kw := range keywords {
			pattern := "*" + kw + "*"
			operands = append(operands,
				filters.Where().
					WithPath([]string{"content_text"}).
					WithOperator(filters.Like).
					WithValueString(pattern),
				filters.Where().
					WithPath([]string{"explanation_text"}).
					WithOperator(filters.Like).
					WithValueString(pattern),
			)
		}

		whereFilter := filters.Where().
			WithOperator(filters.Or).
			WithOperands(operands)

		result, err := client.GraphQL().Get().
			WithClassName(datatypes.ExamClassName).
			WithFields(examFields()...).
			WithWhere(whereFilter).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("weaviate keyword query failed: %w", err)
		}

		parsed, err := datatypes.ParseGraphQLResponse[datatypes.ExamQueryResponse](result)
		if err != nil {
			return nil, fmt.Errorf("failed to parse exam results: %w", err)
		}
		return parsed.ToHits(), nil
	}
}
