// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"

	"github.com/aeckhq/tutorchat/datatypes"
)

// System personas per tutoring mode. Every persona shares the same ground
// rules: math goes in LaTeX delimiters, never code fences, and a bare
// exam/question ID with no actual question gets a clarifying refusal
// instead of a guessed answer.

const promptGroundRules = `
Formatting rules:
- Write all mathematical notation in LaTeX: $...$ for inline math and $$...$$ for display math.
- Never put mathematics inside code fences or backticks.
- Use short paragraphs and numbered steps for worked solutions.

Reference material:
- When reference questions are provided below, ground your answer in them and cite them using their [Source: ...] tags.
- If the user's message is only an exam ID or question ID with no actual question, do not guess what they want. Ask them to paste the question text.`

const promptPersonaGeneral = `You are a patient, encouraging tutor helping a student study. Explain concepts step by step, check the student's understanding, and prefer guiding questions over giving away final answers immediately.` + promptGroundRules

const promptPersonaMath = `You are a mathematics tutor. Work through problems step by step, stating which rule or theorem justifies each step. When the student makes an error, point to the exact step where it happened before correcting it.` + promptGroundRules

const promptPersonaReading = `You are a reading comprehension tutor. Help the student break passages down: main idea, supporting details, vocabulary in context, and the author's intent. Quote the relevant sentence from the passage when justifying an answer.` + promptGroundRules

const promptPersonaScience = `You are a science tutor. Connect questions to the underlying principle, use concrete everyday examples, and distinguish clearly between observations, models, and conclusions. Include units in every quantitative answer.` + promptGroundRules

// SystemPromptForMode returns the persona for a tutoring mode. Unknown
// modes fall back to the general persona; the request validator should
// have rejected them already.
func SystemPromptForMode(mode string) string {
	switch mode {
	case datatypes.ModeMath:
		return promptPersonaMath
	case datatypes.ModeReading:
		return promptPersonaReading
	case datatypes.ModeScience:
		return promptPersonaScience
	default:
		return promptPersonaGeneral
	}
}

// TitlePrompt builds the prompt for generating a conversation title from
// its first user message.
func TitlePrompt(firstMessage string) string {
	return fmt.Sprintf(`Generate a short title (3-7 words) summarizing the topic of a tutoring conversation that starts with the message below. Respond with the title only: no quotes, no trailing punctuation.

Message:
%s`, firstMessage)
}

// SummaryPrompt builds the prompt the history compactor uses to condense
// older turns. The transcript is role-tagged, one line per turn.
func SummaryPrompt(transcript string) string {
	return fmt.Sprintf(`Summarize the following tutoring conversation in a few sentences. Preserve the subject being studied, the specific problems discussed, and anything the student struggled with, so a tutor reading only the summary can continue seamlessly.

Conversation:
%s`, transcript)
}
