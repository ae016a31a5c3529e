//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package research

const (
	plannerSystem = "You are a research planner. Respond with JSON only, " +
		"matching {\"title\": string, \"objective\": string, \"sections\": " +
		"[{\"heading\": string, \"queries\": [string]}]}."

	plannerPrompt = "Create a research plan for the topic: %s\n" +
		"Break it into 3-5 sections, each with 2-3 focused search queries."

	gapSystem = "You are a research manager checking coverage. Respond with " +
		"JSON only, matching {\"complete\": bool, \"gap_queries\": [string]}."

	gapPrompt = "Research plan: %s\n\nFindings collected so far:\n%s\n\n" +
		"Decide whether coverage is complete. If not, list up to 5 search " +
		"queries targeting the gaps."

	writerSystem = "You are a technical writer. Produce a well-structured " +
		"markdown report with headings. Cite sources inline by URL."

	writerPrompt = "Write a research report.\nTitle: %s\nObjective: %s\n\n" +
		"Evidence:\n%s"

	reviewerSystem = "You are a critical reviewer. Respond with JSON only, " +
		"matching {\"severity\": \"minor\"|\"major\", \"summary\": string, " +
		"\"issues\": [string]}. Use \"major\" only when the report needs " +
		"another writing pass."

	reviewerPrompt = "Review this draft report for accuracy, structure, and " +
		"completeness:\n\n%s"
)
