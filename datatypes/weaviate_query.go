// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the expected
// response shape.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// ExamQueryResponse represents the response from querying the Exam class.
type ExamQueryResponse struct {
	Get struct {
		Exam []ExamResult `json:"Exam"`
	} `json:"Get"`
}

// ExamResult is a single exam document from a query.
type ExamResult struct {
	ExamID        string `json:"exam_id"`
	Title         string `json:"title"`
	QuestionsJSON string `json:"questions_json"`
	Additional    struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// ToHits decodes the raw results into ExamHits. A hit whose questions_json
// does not parse keeps an empty question list instead of being dropped, so
// one bad document cannot blank the result set.
func (r *ExamQueryResponse) ToHits() []ExamHit {
	hits := make([]ExamHit, 0, len(r.Get.Exam))
	for _, e := range r.Get.Exam {
		hit := ExamHit{ExamID: e.ExamID, Title: e.Title}
		if d := e.Additional.Distance; d != nil {
			// Cosine distance in [0,2]; fold into a similarity-style score.
			hit.Score = 1 - float64(*d)/2
		}
		if e.QuestionsJSON != "" {
			_ = json.Unmarshal([]byte(e.QuestionsJSON), &hit.Questions)
		}
		hits = append(hits, hit)
	}
	return hits
}

// ExamProperties represents the properties for creating an Exam object.
// Ingestion happens out of band; this is kept for admin tooling and tests.
type ExamProperties struct {
	ExamID          string `json:"exam_id"`
	Title           string `json:"title"`
	QuestionsJSON   string `json:"questions_json"`
	ContentText     string `json:"content_text"`
	ExplanationText string `json:"explanation_text"`
	IngestedAt      int64  `json:"ingested_at"`
}

// ToMap converts ExamProperties to the map format required by the Weaviate
// client's WithProperties() method.
func (p *ExamProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"exam_id":          p.ExamID,
		"title":            p.Title,
		"questions_json":   p.QuestionsJSON,
		"content_text":     p.ContentText,
		"explanation_text": p.ExplanationText,
		"ingested_at":      p.IngestedAt,
	}
}
