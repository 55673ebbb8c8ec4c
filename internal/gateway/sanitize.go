package gateway

import "strings"

const rewritePromptBase = "You are a prompt formatter for AI coding assistants. " +
	"Your job is to clean up voice-transcribed text into a clear, well-structured prompt. " +
	"RULES: " +
	"1) Fix punctuation and capitalize properly. " +
	"2) PRESERVE all technical terms exactly: SQL, API, JSON, REST, GraphQL, Python, JavaScript, etc. " +
	"3) PRESERVE code snippets, file paths, variable names, and CLI commands exactly. " +
	"4) Keep the original meaning and intent - do NOT add or remove information. " +
	"5) Do NOT answer the prompt or respond to it - just format it. " +
	"6) Output ONLY the formatted prompt text, nothing else."

var languageNames = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"pt": "Portuguese",
	"it": "Italian",
	"nl": "Dutch",
	"pl": "Polish",
	"ru": "Russian",
	"uk": "Ukrainian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// BuildRewritePrompt returns the cleanup system prompt. An empty language
// preserves the input language; otherwise the model is told to translate.
func BuildRewritePrompt(outputLanguage string) string {
	if outputLanguage == "" {
		return rewritePromptBase + " 7) Preserve the original language of the text."
	}
	name, ok := languageNames[strings.ToLower(outputLanguage)]
	if !ok {
		name = outputLanguage
	}
	return rewritePromptBase + " 7) Translate the text to " + name + "."
}

var specialTokens = []string{
	"<|end|>",
	"<|endoftext|>",
	"<|im_end|>",
	"<|eot_id|>",
	"</s>",
}

var chatPreambles = []string{
	"sure, here's the corrected text:",
	"sure, here is the corrected text:",
	"sure, here's the text:",
	"sure, here is the text:",
	"sure, here you go:",
	"sure!",
	"sure:",
	"sure,",
	"here's the corrected text:",
	"here is the corrected text:",
	"here's the formatted text:",
	"here is the formatted text:",
	"here's the text:",
	"here is the text:",
	"here you go:",
	"here it is:",
	"corrected text:",
	"corrected:",
	"fixed text:",
	"fixed:",
	"formatted text:",
	"formatted:",
	"the corrected text is:",
	"the corrected text:",
	"the text:",
	"i've corrected the text:",
	"i have corrected the text:",
	"i fixed the text:",
	"of course!",
	"of course:",
	"of course,",
	"certainly!",
	"certainly:",
	"certainly,",
	"output:",
	"result:",
	"answer:",
}

// SanitizeRewrite strips the artifacts small instruction models leave in
// their output: stop tokens, chatty preambles, wrapping quotes, and
// degenerate line repetition.
func SanitizeRewrite(text string) string {
	for _, token := range specialTokens {
		text = strings.ReplaceAll(text, token, "")
	}
	text = strings.TrimSpace(text)

	for _, preamble := range chatPreambles {
		if strings.HasPrefix(strings.ToLower(text), preamble) {
			text = strings.TrimSpace(text[len(preamble):])
		}
	}

	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	if len(text) >= 2 && text[0] == '\'' && text[len(text)-1] == '\'' {
		text = text[1 : len(text)-1]
	}
	text = strings.TrimLeft(text, "\n")

	lines := strings.Split(text, "\n")
	if len(lines) > 1 {
		first := strings.TrimSpace(lines[0])
		if strings.TrimSpace(lines[1]) == first {
			return first
		}
	}
	return text
}

var transcriptArtifacts = []string{
	"[BLANK_AUDIO]",
	"[INAUDIBLE]",
	"[MUSIC]",
	"[NOISE]",
	"(silence)",
}

// CleanTranscript trims whitespace and removes the non-speech markers some
// speech models emit for empty or noisy audio.
func CleanTranscript(text string) string {
	for _, artifact := range transcriptArtifacts {
		text = strings.ReplaceAll(text, artifact, "")
	}
	return strings.TrimSpace(text)
}
