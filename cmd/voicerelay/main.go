// voicerelay relays browser voice calls to the OpenAI Realtime API.
//
// Usage:
//
//	voicerelay serve --port 7860 --max-calls 5 --time-limit 90s
//	voicerelay transcript <call-id> -o table
//	voicerelay config show
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/voicerelay/cmd/voicerelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
