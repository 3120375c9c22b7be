// Package generator produces natural-language answers from a question and a
// grounding context.
//
// Providers:
//   - gemini: generateContent with a single user turn
//   - openai: any OpenAI-compatible /chat/completions endpoint
//   - ollama: the /api/chat endpoint of a local Ollama instance
//   - local: extractive answers built from the context lines that best match
//     the question, for offline use and tests
//
// Generators make exactly one request per call. Retries and attempt
// deadlines belong to the caller.
package generator
