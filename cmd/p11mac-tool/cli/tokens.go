package cli

import (
	"fmt"

	"github.com/pkg/errors"
)

// TokensCmd prints available tokens
type TokensCmd struct {
	Serial string `help:"specifies slot serial (optional)"`
	Label  string `help:"specifies slot token (optional)"`
}

// Run the command
func (a *TokensCmd) Run(ctx *Cli) error {
	p11lib := ctx.P11()

	tokens, err := p11lib.TokensInfo()
	if err != nil {
		return errors.WithMessagef(err, "failed to list tokens")
	}

	out := ctx.Writer()
	printIfNotEmpty := func(label, val string) {
		if val != "" {
			fmt.Fprintf(out, "  %s:  %s\n", label, val)
		}
	}

	for _, token := range tokens {
		if (a.Serial != "" && token.Serial != a.Serial) ||
			(a.Label != "" && token.Label != a.Label) {
			continue
		}
		fmt.Fprintf(out, "Slot: %d\n", token.ID)
		printIfNotEmpty("Manufacturer", token.Manufacturer)
		printIfNotEmpty("Model", token.Model)
		printIfNotEmpty("Description", token.Description)
		printIfNotEmpty("Token serial", token.Serial)
		printIfNotEmpty("Token label", token.Label)
	}
	return nil
}
