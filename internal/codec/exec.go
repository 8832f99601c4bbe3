package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/romshark/intlbuild"
)

// Operations an external codec must implement.
var execOperations = []string{"decode", "encode", "to-json"}

// DefaultExecTimeout bounds a single invocation of an external codec.
const DefaultExecTimeout = 30 * time.Second

// Description is what an external codec reports for `describe`.
type Description struct {
	Operations []string `json:"operations"`
	Extension  string   `json:"extension"`
}

// Exec is a codec implemented by an external executable.
//
// The executable is invoked as `<path> <operation> --locale <l>
// --source-locale <s>` with the input on stdin and the result on stdout:
// decode reads catalog content and writes a JSON array of messages,
// encode reads a JSON array of messages and writes catalog content,
// to-json reads catalog content and writes nested JSON.
type Exec struct {
	Path    string
	Timeout time.Duration
	ext     string
}

var _ Codec = new(Exec)

// NewExec validates the executable at path and returns its codec.
func NewExec(ctx context.Context, path string) (*Exec, error) {
	d, err := Check(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Exec{Path: path, Timeout: DefaultExecTimeout, ext: d.Extension}, nil
}

// Check runs `<path> describe` and verifies the codec supports all
// operations and names a file extension.
func Check(ctx context.Context, path string) (Description, error) {
	var d Description
	if path == "" {
		return d, fmt.Errorf("%w: empty executable path", ErrInvalidCodec)
	}
	out, err := run(ctx, DefaultExecTimeout, path, nil, "describe")
	if err != nil {
		return d, fmt.Errorf("%w: %s: %w", ErrInvalidCodec, path, err)
	}
	if err := json.Unmarshal(out, &d); err != nil {
		return d, fmt.Errorf("%w: %s: decoding description: %w",
			ErrInvalidCodec, path, err)
	}
	for _, op := range execOperations {
		if !slices.Contains(d.Operations, op) {
			return d, fmt.Errorf("%w: %s: missing operation %q",
				ErrInvalidCodec, path, op)
		}
	}
	if !strings.HasPrefix(d.Extension, ".") || len(d.Extension) < 2 {
		return d, fmt.Errorf("%w: %s: invalid extension %q",
			ErrInvalidCodec, path, d.Extension)
	}
	return d, nil
}

func run(
	ctx context.Context, timeout time.Duration, path string, stdin []byte, args ...string,
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (c *Exec) Extension() string { return c.ext }

func (c *Exec) call(op string, stdin []byte, ctx Context) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	out, err := run(context.Background(), timeout, c.Path, stdin,
		op, "--locale", ctx.Locale, "--source-locale", ctx.SourceLocale)
	if err != nil {
		return nil, fmt.Errorf("codec %s %s: %w", c.Path, op, err)
	}
	return out, nil
}

func (c *Exec) Decode(content []byte, ctx Context) ([]intlbuild.Message, error) {
	out, err := c.call("decode", content, ctx)
	if err != nil {
		return nil, err
	}
	var msgs []intlbuild.Message
	if err := json.Unmarshal(out, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return msgs, nil
}

func (c *Exec) Encode(msgs []intlbuild.Message, ctx Context) ([]byte, error) {
	msgs = sorted(msgs)
	if msgs == nil {
		msgs = []intlbuild.Message{}
	}
	if !ctx.IsSource() {
		// Target catalogs carry no references.
		for i := range msgs {
			msgs[i].References = nil
		}
	}
	in, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	return c.call("encode", in, ctx)
}

func (c *Exec) ToJSONString(content []byte, ctx Context) (string, error) {
	out, err := c.call("to-json", content, ctx)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
