package prompts

// Flex returns the prompt asking for a LINE Flex "contents" object.
// guidelines is the optional flex-guidelines.md preset.
func Flex(requirement, guidelines string) string {
	p := "You are an assistant that outputs only JSON for LINE Flex Message 'contents'.\n" +
		"Return a valid 'contents' object (type: 'bubble' or 'carousel'). Do not include markdown or explanations.\n" +
		"Keep text short. Avoid unsupported fields.\n\n"
	if guidelines != "" {
		p += "Flex Guidelines:\n" + guidelines + "\n\n"
	}
	return p + "Requirement: " + requirement
}
