package logging

import (
	"strings"
	"testing"
)

func BenchmarkEscapeString(b *testing.B) {
	// Create a string that requires escaping
	input := "Denied: speaker said \"move forward\"\nreason: trust \\ below required \tlevel."
	// Make it long enough to matter
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = escapeString(input)
	}
}

func BenchmarkEscapeStringNoEscapes(b *testing.B) {
	// Create a string that requires NO escaping
	input := "Allowed: owner requested pan left at low risk with clear range."
	// Make it long
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = escapeString(input)
	}
}
