package worker

import (
	"fmt"
	"strings"
)

// Prompt builders. Every prompt instructs the model to stay strictly within
// the supplied content; downstream consumers rely on answers not inventing
// documents that were never uploaded.

func buildDescriptionPrompt(filename, excerpt string, excerptTruncated bool, rawBase64 string, rawTruncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing the file '%s'. Use the following extracted text %s to produce a concise, factual description and key highlights that will help downstream search and reasoning.\n\n--- BEGIN EXCERPT ---\n%s\n--- END EXCERPT ---",
		filename, excerptNote(excerptTruncated), excerpt)
	appendRawSection(&b, rawBase64, rawTruncated)
	return b.String()
}

func buildMetadataPrompt(filename, description, excerpt string, excerptTruncated bool, rawBase64 string, rawTruncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are constructing vector search metadata for the file '%s'.\nCurrent description: %s\nUse the extracted text %s below to derive precise keywords, thematic clusters, and relationships that are explicitly supported by the content. Provide richly structured bullet points grouped by themes.\n\n--- BEGIN EXCERPT ---\n%s\n--- END EXCERPT ---",
		filename, description, excerptNote(excerptTruncated), excerpt)
	appendRawSection(&b, rawBase64, rawTruncated)
	return b.String()
}

func excerptNote(truncated bool) string {
	if truncated {
		return "(excerpt truncated for prompt size)"
	}
	return ""
}

func appendRawSection(b *strings.Builder, rawBase64 string, truncated bool) {
	if rawBase64 == "" {
		return
	}
	note := "(base64)"
	if truncated {
		note = "(base64 truncated to first 512KB)"
	}
	fmt.Fprintf(b, "\n\n--- BEGIN RAW FILE %s ---\n%s\n--- END RAW FILE ---", note, rawBase64)
}

func buildRelationshipsPrompt(query string, files []RelatedFile) string {
	var lines []string
	for _, f := range files {
		desc := ""
		if f.Description != nil {
			desc = *f.Description
		}
		lines = append(lines, fmt.Sprintf("- id: %s, filename: %s, path: %s, desc: %s", f.ID, f.Filename, f.Path, desc))
	}
	return fmt.Sprintf("You are an assistant analyzing relationships STRICTLY within the provided files.\n"+
		"Query: %s\n"+
		"Files:\n%s\n"+
		"Tasks:\n"+
		"1) Summarize key details from the files relevant to the query.\n"+
		"2) Describe relationships and linkages strictly supported by these files.\n"+
		"3) List important follow-up questions that could be answered only using the provided files.\n"+
		"Rules: Do NOT guess or invent. If information is insufficient in the files, explicitly state that.",
		query, strings.Join(lines, "\n"))
}

func buildFinalAnswerPrompt(query string, files []RelatedFile, relationships string) string {
	var lines []string
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("- %s (%s)", f.Filename, f.ID))
	}
	return fmt.Sprintf("You are to compose a final answer to the user query using only the information from the files.\n"+
		"Query: %s\n"+
		"Files considered:\n%s\n"+
		"Relationship analysis:\n%s\n"+
		"Requirements:\n"+
		"- Use only information present in the files and analysis above.\n"+
		"- If the answer is uncertain or cannot be determined from the files, clearly state that limitation.\n"+
		"- Avoid speculation or assumptions.\n"+
		"Provide a concise, structured answer.",
		query, strings.Join(lines, "\n"), relationships)
}
