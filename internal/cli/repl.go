package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/castellan-io/castellan/internal/logging"
	"github.com/castellan-io/castellan/internal/protocol"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const helpText = `# Castellan management shell

Commands starting with ` + "`/`" + ` are local; anything else is parsed as a
management operation request:

    node-type=node-name [, node-type=node-name]* : operation-name ( [name=value]* )

For example:

    subsystem=web:read-resource(recursive=true)

## Local commands

| Command | Description |
|---|---|
| /help | Show this help. |
| /connect [host[:port]] | Connect to a management endpoint (default localhost:9999). |
| /prefix [address] | Show or set the address prefix applied to requests. |
| /to [address] | Alias of /prefix. |
| /quit | Exit the shell. |
`

const defaultEndpoint = "localhost:9999"

// commandHandler handles one local slash command.
type commandHandler func(r *REPL, args string) error

// REPL is the interactive management shell. Lines starting with '/' are
// local control commands (matched case-insensitively: the whole line,
// arguments included, is lower-cased before lookup, unlike operation names
// which stay case-sensitive); everything else is an operation request sent to the
// connected controller.
type REPL struct {
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger
	client   *protocol.Client
	endpoint string
	prefix   model.Address
	// prefixType holds a trailing type-only prefix element awaiting a
	// bare name token.
	prefixType string
	terminate  bool

	handlers map[string]commandHandler
	color    termenv.Profile
	render   func(string) (string, error)

	// dial is swappable for tests.
	dial func(endpoint string) *protocol.Client
}

// ReplOption configures the REPL.
type ReplOption func(*REPL)

// WithIO overrides the input and output streams.
func WithIO(in io.Reader, out io.Writer) ReplOption {
	return func(r *REPL) {
		r.in = in
		r.out = out
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ReplOption {
	return func(r *REPL) {
		r.logger = logger
	}
}

// WithDialer overrides how /connect builds protocol clients.
func WithDialer(dial func(endpoint string) *protocol.Client) ReplOption {
	return func(r *REPL) {
		r.dial = dial
	}
}

// NewREPL creates the shell. Output coloring and markdown rendering are
// enabled only on a real terminal.
func NewREPL(opts ...ReplOption) *REPL {
	r := &REPL{
		in:     os.Stdin,
		out:    os.Stdout,
		logger: logging.NewNop(),
		color:  termenv.Ascii,
		dial: func(endpoint string) *protocol.Client {
			return protocol.NewClient(endpoint)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.color = termenv.ColorProfile()
		if renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle()); err == nil {
			r.render = renderer.Render
		}
	}
	r.handlers = map[string]commandHandler{
		"help":    (*REPL).cmdHelp,
		"h":       (*REPL).cmdHelp,
		"quit":    (*REPL).cmdQuit,
		"q":       (*REPL).cmdQuit,
		"connect": (*REPL).cmdConnect,
		"prefix":  (*REPL).cmdPrefix,
		"to":      (*REPL).cmdPrefix,
	}
	return r
}

// Run processes lines until /quit or EOF. It returns an error only on
// fatal I/O; command failures are printed and the loop continues.
func (r *REPL) Run() error {
	r.println("You are disconnected at the moment. Type /connect to connect to the server or /help for the list of supported commands.")

	scanner := bufio.NewScanner(r.in)
	for !r.terminate {
		r.prompt()
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read command line: %w", err)
			}
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == '/' {
			r.dispatchCommand(line)
			continue
		}
		if err := r.executeRequest(line); err != nil {
			r.println(err.Error())
		}
	}
	return nil
}

func (r *REPL) prompt() {
	p := termenv.String("[" + r.prefixString() + "] ").Foreground(r.color.Color("#818cf8"))
	fmt.Fprint(r.out, p.String())
}

func (r *REPL) prefixString() string {
	s := r.prefix.String()
	if r.prefixType != "" {
		if s == "/" {
			s = ""
		}
		s += "/" + r.prefixType
	}
	return s
}

// dispatchCommand routes a slash line. The whole line, arguments included,
// is lower-cased before lookup, so /HELP and /help are the same command.
func (r *REPL) dispatchCommand(line string) {
	cmd := strings.ToLower(line[1:])
	args := ""
	for i, c := range cmd {
		if c == ' ' || c == '\t' {
			args = strings.TrimSpace(cmd[i+1:])
			cmd = cmd[:i]
			break
		}
	}
	handler, ok := r.handlers[cmd]
	if !ok {
		r.println(fmt.Sprintf("Unexpected command '%s'. Type /help for the list of supported commands.", line))
		return
	}
	if err := handler(r, args); err != nil {
		r.println(err.Error())
	}
}

// executeRequest parses one operation line, applies the prefix, and
// sends it to the connected controller.
func (r *REPL) executeRequest(line string) error {
	if r.client == nil {
		return fmt.Errorf("not connected; type /connect first")
	}
	builder := NewOperationBuilder(r.prefix)
	if r.prefixType != "" {
		if err := builder.AddNodeType(r.prefixType); err != nil {
			return err
		}
	}
	if err := ParseRequest(line, builder); err != nil {
		return err
	}
	operation, err := builder.Operation()
	if err != nil {
		return err
	}
	r.logger.Debug("executing operation", "operation", operation.Get(model.KeyOperation).AsString())
	result, err := r.client.ExecuteSync(operation)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	r.println(result.JSONString(false))
	return nil
}

func (r *REPL) cmdHelp(string) error {
	if r.render != nil {
		if rendered, err := r.render(helpText); err == nil {
			fmt.Fprint(r.out, rendered)
			return nil
		}
	}
	r.println(helpText)
	return nil
}

func (r *REPL) cmdQuit(string) error {
	r.terminate = true
	r.println("closed")
	return nil
}

func (r *REPL) cmdConnect(args string) error {
	endpoint := args
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if !strings.Contains(endpoint, ":") {
		endpoint += ":9999"
	}
	r.client = r.dial(endpoint)
	r.endpoint = endpoint
	r.println("Connected to " + endpoint)
	return nil
}

// cmdPrefix shows or replaces the address prefix. The argument uses the
// address half of the request grammar; a bare trailing token is kept as
// a type-only element completed by the next request. An empty argument
// prints the current prefix; "/" resets it.
func (r *REPL) cmdPrefix(args string) error {
	if args == "" {
		r.println(r.prefixString())
		return nil
	}
	if args == "/" {
		r.prefix = model.EmptyAddress
		r.prefixType = ""
		return nil
	}
	var prefix model.Address
	prefixType := ""
	for _, node := range strings.Split(args, ",") {
		node = strings.TrimSpace(node)
		if node == "" {
			return formatErrorf("node name is missing in prefix %q", args)
		}
		sep := strings.IndexByte(node, nodeTypeNameSeparator)
		if sep < 0 {
			if prefixType != "" {
				return formatErrorf("node type %q is missing its name", prefixType)
			}
			if !IsValidIdentifier(node) {
				return formatErrorf("the node type %q is not a valid identifier", node)
			}
			prefixType = node
			continue
		}
		nodeType := strings.TrimSpace(node[:sep])
		nodeName := strings.TrimSpace(node[sep+1:])
		if !IsValidIdentifier(nodeType) || !IsValidIdentifier(nodeName) {
			return formatErrorf("bad prefix element %q", node)
		}
		prefix = prefix.Append(model.Element(nodeType, nodeName))
	}
	r.prefix = prefix
	r.prefixType = prefixType
	return nil
}

func (r *REPL) println(msg string) {
	fmt.Fprintln(r.out, msg)
}
