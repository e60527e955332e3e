package request

// Formatting instructions injected into the system message so math renders
// correctly on the client.
const (
	KatexFormattingInstruction = "Please format all mathematical expressions and equations using KaTeX syntax. " +
		"For inline math, use `$expression$`. For block math, use `$$expression$$`."
	DeepseekKatexFormattingInstruction = KatexFormattingInstruction
	QwenKatexFormattingInstruction     = KatexFormattingInstruction
)

// GeminiSystemInstruction is the system prompt sent on the Gemini REST path.
const GeminiSystemInstruction = "You are a capable, thoughtful assistant. Answer the user's questions " +
	"directly and accurately, reasoning carefully before responding. " + KatexFormattingInstruction
