// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ExamClassName is the Weaviate class holding the exam corpus.
const ExamClassName = "Exam"

// GetExamSchema returns the schema for the Exam class.
//
// Exams are ingested with externally computed vectors (vectorizer "none").
// The question list is stored as one JSON text blob; content_text and
// explanation_text are word-tokenized concatenations that exist only so the
// keyword fallback has something to Like-filter against.
func GetExamSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ExamClassName,
		Description: "An exam document with its questions, answers, and explanations.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "exam_id",
				DataType:        []string{"text"},
				Description:     "The unique ID of the exam.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Human-readable exam title.",
				Tokenization: "word",
			},
			{
				Name:         "questions_json",
				DataType:     []string{"text"},
				Description:  "JSON-encoded list of questions with answers and explanations.",
				Tokenization: "word",
			},
			{
				Name:         "content_text",
				DataType:     []string{"text"},
				Description:  "Concatenated question text, for keyword filtering.",
				Tokenization: "word",
			},
			{
				Name:         "explanation_text",
				DataType:     []string{"text"},
				Description:  "Concatenated answer explanations, for keyword filtering.",
				Tokenization: "word",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the exam was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Creation
// failure is fatal: the retriever cannot run against a half-defined schema.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetExamSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// The client errors when the class does not exist yet.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
