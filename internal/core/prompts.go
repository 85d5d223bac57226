package core

import (
	"fmt"
	"strings"

	"lte.dev/doc-chatbot/internal/chunker"
)

const (
	ragSystemInstruction = "You are an intelligent assistant specialized in LTE (Long-Term Evolution) technology.\n" +
		"Your task is to answer the user's question using ONLY the information from the provided context.\n" +
		"If the context doesn't contain enough information to answer the question fully, acknowledge the limitations and explain what information is missing.\n" +
		"Do not make up information or use your general knowledge to fill in gaps.\n\n" +
		"Guidelines:\n" +
		"1. Base your answer solely on the provided context\n" +
		"2. If the context is insufficient, say so clearly\n" +
		"3. Be concise but thorough in your response\n" +
		"4. If appropriate, cite the specific source document from the context\n" +
		"5. Format your response in a clear, readable manner using markdown when helpful\n" +
		"6. Focus on providing accurate technical information about LTE technology"

	chatSystemInstruction = "You are an LTE technology expert assistant powered by Google Gemini.\n" +
		"Your goal is to provide informative, relevant, and helpful responses to the user's questions about LTE technology.\n" +
		"If you're unsure about something, acknowledge your uncertainty rather than making up information.\n" +
		"Be concise but thorough in your explanations.\n" +
		"If the user asks about topics unrelated to LTE, politely redirect them to ask about LTE technology."

	ragUserTemplate = "Context information is below:\n" +
		"--------------------\n" +
		"%s\n" +
		"--------------------\n\n" +
		"Given the context information and not prior knowledge, answer the question about LTE technology: %s"

	extractInstruction = "Given the following question and context, extract any part of the context *AS IS* that is relevant to answer the question. " +
		"If none of the context is relevant return " + noOutputMarker + ".\n\n" +
		"Remember, *DO NOT* edit the extracted parts of the context."

	extractTemplate = "> Question: %s\n> Context:\n>>>\n%s\n>>>\nExtracted relevant parts:"

	noOutputMarker = "NO_OUTPUT"

	NotConfiguredMessage = "I'm sorry, but I can't process your request because the Gemini API key is missing or invalid. " +
		"Please set a valid API key in the .env file and restart the application."

	apologyFormat = "I'm sorry, but an error occurred while processing your request: %v"

	sourcesPrefix = "\n\nSources: "
)

// formatContext renders retrieved chunks as numbered, source-labelled blocks.
func formatContext(chunks []chunker.Chunk) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		source := c.Source()
		if source == "" {
			source = "Unknown"
		}
		blocks[i] = fmt.Sprintf("Document %d (Source: %s): %s", i+1, source, c.Text)
	}
	return strings.Join(blocks, "\n\n")
}

func groundedPrompt(chunks []chunker.Chunk, question string) string {
	return fmt.Sprintf(ragUserTemplate, formatContext(chunks), question)
}

func extractPrompt(question, context string) string {
	return fmt.Sprintf(extractTemplate, question, context)
}

// SourcesOf returns the distinct source names of chunks in first-seen order.
// The placeholder source is never reported.
func SourcesOf(chunks []chunker.Chunk) []string {
	sources := []string{}
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		src := c.Source()
		if src == "" || src == PlaceholderSource {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}
