package cli

import (
	"fmt"
	"io"

	"github.com/nulzo/onellm-router/pkg/api"
)

// Banner describes what the server prints on startup.
type Banner struct {
	Version   string
	Addr      string
	Providers []api.ProviderKind
	Disabled  []api.ProviderKind
	// Latest is set when a newer release exists.
	Latest string
}

func (b Banner) Write(w io.Writer) {
	fmt.Fprintf(w, "\n  %s %s\n\n", Style("onellm-router", Bold+Cyan), Style(b.Version, DimCode))
	fmt.Fprintf(w, "  %s Listening on %s\n", Arrow(), Style(b.Addr, Bold))

	for _, p := range b.Providers {
		fmt.Fprintf(w, "  %s %s\n", CheckMark(), p)
	}
	for _, p := range b.Disabled {
		fmt.Fprintf(w, "  %s %s %s\n", CrossMark(), p, Style("(not configured)", DimCode))
	}

	if b.Latest != "" {
		fmt.Fprintf(w, "\n  %s\n", Style(fmt.Sprintf("A newer release is available: %s (running %s)", b.Latest, b.Version), Yellow))
	}
	fmt.Fprintln(w)
}
