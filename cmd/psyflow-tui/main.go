package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/logging"
)

// The builder owns the terminal, so workflow logs are dropped.
var discardLogger = logging.Discard()

func main() {
	endpoint := flag.String("endpoint", envOr("PSYFLOW_ENDPOINT", client.DefaultEndpoint), "daemon URL")
	token := flag.String("token", os.Getenv("PSYFLOW_API_TOKEN"), "API bearer token")
	experiment := flag.String("experiment", "", "open this experiment directly")
	flag.Parse()

	var opts []client.Option
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	c := client.NewClient(*endpoint, opts...)

	p := tea.NewProgram(newModel(c, *experiment), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
