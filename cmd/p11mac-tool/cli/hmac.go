package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/effective-security/p11mac/mac"
	"github.com/pkg/errors"
)

// HmacCmd computes an HMAC tag on the token
type HmacCmd struct {
	Alg    string `kong:"arg" required:"" help:"HMAC algorithm, e.g. HMAC-SHA256 or HMAC-SHA3-512"`
	Key    string `required:"" help:"key material: 'hex:<hex>', 'file:<path>', or a literal string"`
	Data   string `help:"message: 'file:<path>', '-' for stdin, or a literal string"`
	Base64 bool   `help:"print the tag in base64 instead of hex"`
}

// Run the command
func (a *HmacCmd) Run(ctx *Cli) error {
	alg, err := mac.ParseAlgorithm(a.Alg)
	if err != nil {
		return err
	}

	key, err := loadInput(a.Key, nil)
	if err != nil {
		return errors.WithMessage(err, "failed to load key")
	}

	data, err := loadInput(a.Data, ctx.Reader())
	if err != nil {
		return errors.WithMessage(err, "failed to load message")
	}

	tag, err := mac.HmacOn(ctx.P11(), alg, key, data)
	if err != nil {
		return err
	}

	encoded := hex.EncodeToString(tag)
	if a.Base64 {
		encoded = base64.StdEncoding.EncodeToString(tag)
	}
	fmt.Fprintln(ctx.Writer(), encoded)

	return nil
}

// loadInput resolves a command line value: `hex:` decodes, `file:`
// reads the file, `-` reads stdin, anything else is literal bytes.
func loadInput(val string, stdin io.Reader) ([]byte, error) {
	switch {
	case val == "-" && stdin != nil:
		b, err := io.ReadAll(stdin)
		return b, errors.WithStack(err)
	case strings.HasPrefix(val, "hex:"):
		b, err := hex.DecodeString(val[4:])
		return b, errors.WithStack(err)
	case strings.HasPrefix(val, "file:"):
		b, err := os.ReadFile(val[5:])
		return b, errors.WithStack(err)
	}
	return []byte(val), nil
}
