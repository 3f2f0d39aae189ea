package agentloop

import "fmt"

// DefaultToolResultLimit caps the characters of one tool result sent
// back to the model. Oversized outputs inflate token usage and can push
// the conversation past the backend's request limits.
const DefaultToolResultLimit = 30000

// TruncateOutput applies head/tail truncation to a tool result that
// exceeds maxChars. The middle is removed so both the beginning and the
// end of the output survive.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n",
			removed) +
		output[len(output)-half:]
}
