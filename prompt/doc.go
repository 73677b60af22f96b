// Package prompt renders resolved context bundles into LLM request
// payloads.
//
// Builder assembles prompt text piece by piece. AddBundle turns admitted
// text files into <file path="..." type="..."> blocks, images and PDFs into
// base64 data URI attachments, and lists omitted files with their reasons.
//
// Loader finds prompt templates by name in the project's
// .promptarena/prompts/ and prompts/ directories before the embedded
// defaults ("context", "compare"), and renders them with text/template:
//
//	loader := prompt.NewLoader(".")
//	out, err := loader.RenderBundle("context", bundle, map[string]any{
//	    "Instructions": "Summarize the module layout.",
//	})
//	// out.Text is the message body, out.Attachments go alongside it.
package prompt
