// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Retrieval types. ExamHit is what the search layer returns per matched
// exam; ContextItem is the refined per-question unit handed to the prompt
// builder.

// ExamQuestion is one question inside an exam document. Exams store the
// question list as a single JSON text property (questions_json); per-question
// refinement happens in Go, not in Weaviate.
type ExamQuestion struct {
	QuestionID  string `json:"questionId"`
	Text        string `json:"text"`
	Answer      string `json:"answer,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// ExamHit is one exam document returned by a vector or keyword search,
// questions already decoded. Score is a similarity in [0,1]; keyword-path
// hits carry zero.
type ExamHit struct {
	ExamID    string
	Title     string
	Questions []ExamQuestion
	Score     float64
}

// ContextItem is one refined retrieval unit: a single question from a
// matched exam, with enough identity for the model to cite it.
type ContextItem struct {
	ExamID      string  `json:"examId"`
	ExamTitle   string  `json:"examTitle"`
	QuestionID  string  `json:"questionId"`
	Text        string  `json:"text"`
	Answer      string  `json:"answer,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
	Score       float64 `json:"score"`
}
