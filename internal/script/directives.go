package script

// Directive is one fixed system instruction sent with every prompt. Directives
// are sent in slice order after the user message.
type Directive struct {
	Name    string
	Content string
}

// PersonaDirective keeps the model on meditation guidance only.
var PersonaDirective = Directive{
	Name: "persona",
	Content: "You are a compassionate and calming meditation guide. The user will express their current problems, " +
		"stresses, worries, emotions, or challenges. Respond by providing a short, soothing meditation practice, " +
		"mindfulness guidance, or thoughtful advice specifically tailored to help them cope with what they're " +
		"experiencing. Speak directly to the user in a gentle, reassuring tone. Respond ONLY with the meditation " +
		"or mindfulness advice itself, nothing else.",
}

// SSMLFormatDirective asks for SSML with slow prosody and three second breaks.
var SSMLFormatDirective = Directive{
	Name: "format-ssml",
	Content: `Format your response as SSML wrapped in <speak> tags. Slow down your speaking rate using ` +
		`<prosody rate="x-slow"> around the entire content. Insert a <break time="3s"/> tag after each ` +
		`complete statement to create a pause of exactly three seconds.`,
}

// PlainFormatDirective asks for unannotated prose.
var PlainFormatDirective = Directive{
	Name:    "format-plain",
	Content: "Respond in plain text only, without markup, headings or lists.",
}

// LengthDirective asks for a long session.
var LengthDirective = Directive{
	Name:    "length",
	Content: "Make the response long",
}

// DefaultDirectives is persona, SSML formatting and length, in that order.
func DefaultDirectives() []Directive {
	return []Directive{PersonaDirective, SSMLFormatDirective, LengthDirective}
}

// BuildDirectives assembles the built-in set for a format ("ssml", "plain" or
// "none") with the length directive optionally appended.
func BuildDirectives(format string, longForm bool) []Directive {
	out := []Directive{PersonaDirective}
	switch format {
	case "ssml":
		out = append(out, SSMLFormatDirective)
	case "plain":
		out = append(out, PlainFormatDirective)
	}
	if longForm {
		out = append(out, LengthDirective)
	}
	return out
}

// Without returns directives minus any entry named name.
func Without(directives []Directive, name string) []Directive {
	out := make([]Directive, 0, len(directives))
	for _, d := range directives {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

// Replace swaps the entry named d.Name for d, appending it when absent.
func Replace(directives []Directive, d Directive) []Directive {
	out := make([]Directive, 0, len(directives)+1)
	found := false
	for _, existing := range directives {
		if existing.Name == d.Name {
			out = append(out, d)
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, d)
	}
	return out
}
