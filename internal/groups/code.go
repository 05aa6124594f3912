package groups

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Join codes are meant to be read aloud across a gym: two short words and
// two digits, like "swift-falcon-42".
var (
	codeAdjectives = []string{
		"swift", "lucky", "mighty", "rapid", "bright", "calm", "bold",
		"eager", "fancy", "brave", "keen", "quick", "sunny", "wild",
	}
	codeNouns = []string{
		"falcon", "smash", "drive", "rally", "birdie", "racket", "net",
		"drop", "clear", "serve", "flick", "lob", "dash", "ace",
	}
)

// GenerateJoinCode returns a new human-readable group join code. Uniqueness
// is enforced by the store; callers retry on collision.
func GenerateJoinCode() string {
	adjective := codeAdjectives[rand.IntN(len(codeAdjectives))]
	noun := codeNouns[rand.IntN(len(codeNouns))]
	return fmt.Sprintf("%s-%s-%02d", adjective, noun, rand.IntN(100))
}

// NormalizeJoinCode canonicalizes user input before lookup.
func NormalizeJoinCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
