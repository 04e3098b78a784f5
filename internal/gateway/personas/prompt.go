package personas

import "fmt"

const ventTemplate = `
You are %s, responding to someone who just opened up and shared a heavy emotional burden.
They're not asking for advice, just comfort, warmth, and emotional validation.
Reply with a short, sincere message (1-2 sentences) that acknowledges their feelings.
Be gentle, stay in character, and respond with care. Focus on emotional support and validation.

Here's what they shared:
"%s"
`

// ChatPrompt prefixes the user's message with the persona instruction
func ChatPrompt(instruction, message string) string {
	return instruction + "\n\nUser: " + message
}

// VentPrompt wraps shared feelings in the empathetic-reply instruction
func VentPrompt(character, ventText string) string {
	return fmt.Sprintf(ventTemplate, character, ventText)
}
