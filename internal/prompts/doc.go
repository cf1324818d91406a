// Package prompts contains every LLM prompt template linebot sends.
//
// Prompt text is Go code rather than config files because it is program
// logic: the builders are pure functions of their inputs (instruction,
// knowledge, style, brand voice) and can be validated by tests. Nothing
// here touches the filesystem; callers load presets and pass them in.
//
// Convention: each prompt category gets its own file (planner.go, qa.go,
// sql.go, flex.go) with an exported function that accepts the dynamic
// parts and returns the fully assembled prompt string.
package prompts
