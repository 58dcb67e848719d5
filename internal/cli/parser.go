// Package cli implements the interactive management shell: the textual
// operation request parser, the address prefix, and the REPL with its
// slash commands.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/castellan-io/castellan/pkg/model"
)

// Format is the textual command grammar:
//
//	node-type=node-name [, node-type=node-name]* : operation-name ( [name=value [, name=value]*] )
//
// Whitespace between tokens is insignificant, e.g.
//
//	profile=production,subsystem=threads,bounded-queue-thread-pool=pool1:write-core-threads(count=0, per-cpu=20)
//
// Node types, node names, operation names and argument names must be
// identifiers: a letter, '_' or '$' first, then identifier characters or
// '-'.
const Format = "node-type=node-name [, node-type=node-name]* : operation-name ( [name=value [, name=value]*] )"

const (
	nodeSeparator             = ','
	addressOperationSeparator = ':'
	nodeTypeNameSeparator     = '='
	argListStart              = '('
	argListEnd                = ')'
	argSeparator              = ','
	argNameValueSeparator     = '='
)

// FormatError reports a command that does not follow the grammar.
type FormatError struct {
	msg string
}

func (e *FormatError) Error() string {
	return e.msg
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// isIdentifierStart and isIdentifierPart delimit valid identifier runes.
func isIdentifierStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

func isIdentifierPart(r rune) bool {
	return isIdentifierStart(r) || unicode.IsDigit(r)
}

// IsValidIdentifier checks the identifier rule, allowing '-' after the
// first rune.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isIdentifierStart(r) {
				return false
			}
			continue
		}
		if !isIdentifierPart(r) && r != '-' {
			return false
		}
	}
	return true
}

// RequestBuilder accumulates the parsed pieces of an operation request.
type RequestBuilder interface {
	// AddNode appends a type=name address element.
	AddNode(nodeType, nodeName string) error
	// AddNodeName handles a bare token without the '=' separator. When
	// the address so far ends in a type-only element the token completes
	// it; otherwise the token is kept as a node name with a wildcard
	// type. The bare form is ambiguous and kept for compatibility.
	AddNodeName(name string) error
	// SetOperationName records the operation.
	SetOperationName(name string) error
	// AddArgument records one name=value operation parameter.
	AddArgument(name, value string) error
}

// ParseRequest parses cmd per Format into the builder. It keeps no state
// of its own, so concurrent callers may use it freely.
func ParseRequest(cmd string, builder RequestBuilder) error {
	cmd = strings.TrimSpace(cmd)

	addrSepIndex := strings.IndexByte(cmd, addressOperationSeparator)
	argListStartIndex := strings.IndexByte(cmd, argListStart)
	if argListStartIndex > 0 && addrSepIndex > argListStartIndex {
		// The colon belongs to an argument value.
		addrSepIndex = -1
	}

	if addrSepIndex > 0 {
		address := strings.TrimSpace(cmd[:addrSepIndex])
		if address == "" {
			return formatErrorf("the address part is missing; command %q doesn't follow the format %s", cmd, Format)
		}
		for _, node := range strings.Split(address, string(nodeSeparator)) {
			node = strings.TrimSpace(node)
			if node == "" {
				return formatErrorf("node name is missing or the format is wrong for the address string %q", address)
			}
			sep := strings.IndexByte(node, nodeTypeNameSeparator)
			if sep < 0 {
				if err := builder.AddNodeName(node); err != nil {
					return err
				}
				continue
			}
			nodeType := strings.TrimSpace(node[:sep])
			if nodeType == "" {
				return formatErrorf("the node type is missing for the node %q in address %q", node, address)
			}
			if !IsValidIdentifier(nodeType) {
				return formatErrorf("the node type %q is not a valid identifier in address %q", nodeType, address)
			}
			nodeName := strings.TrimSpace(node[sep+1:])
			if nodeName == "" {
				return formatErrorf("the node name is missing for the node %q in address %q", node, address)
			}
			if !IsValidIdentifier(nodeName) {
				return formatErrorf("the node name %q is not a valid identifier in address %q", nodeName, address)
			}
			if err := builder.AddNode(nodeType, nodeName); err != nil {
				return err
			}
		}
	}

	var operation string
	if argListStartIndex < 0 {
		if strings.IndexByte(cmd[addrSepIndex+1:], argListEnd) != -1 {
			return formatErrorf("couldn't locate %q but found %q; command %q doesn't follow the format %s",
				string(argListStart), string(argListEnd), cmd, Format)
		}
		operation = strings.TrimSpace(cmd[addrSepIndex+1:])
	} else {
		operation = strings.TrimSpace(cmd[addrSepIndex+1 : argListStartIndex])
	}
	if operation == "" {
		return formatErrorf("the operation name is missing: %q", cmd)
	}
	if !IsValidIdentifier(operation) {
		return formatErrorf("operation name %q is not a valid identifier; command %q doesn't follow the format %s", operation, cmd, Format)
	}
	if err := builder.SetOperationName(operation); err != nil {
		return err
	}

	if argListStartIndex != -1 {
		argListEndIndex := strings.IndexByte(cmd[argListStartIndex+1:], argListEnd)
		if argListEndIndex < 0 {
			return formatErrorf("couldn't locate %q; command %q doesn't follow the format %s", string(argListEnd), cmd, Format)
		}
		args := strings.TrimSpace(cmd[argListStartIndex+1 : argListStartIndex+1+argListEndIndex])
		if args != "" {
			for _, arg := range strings.Split(args, string(argSeparator)) {
				arg = strings.TrimSpace(arg)
				if arg == "" {
					return formatErrorf("an argument is missing or the command is in the wrong format: %q", cmd)
				}
				sep := strings.IndexByte(arg, argNameValueSeparator)
				if sep < 0 {
					return formatErrorf("couldn't locate %q in the argument %q", string(argNameValueSeparator), arg)
				}
				name := strings.TrimSpace(arg[:sep])
				if name == "" {
					return formatErrorf("the argument name is missing or the format is wrong for argument %q", arg)
				}
				if !IsValidIdentifier(name) {
					return formatErrorf("argument name %q is not a valid identifier in the argument list %q", name, args)
				}
				value := strings.TrimSpace(arg[sep+1:])
				if value == "" {
					return formatErrorf("the argument value is missing or the format is wrong for argument %q", arg)
				}
				if err := builder.AddArgument(name, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// OperationBuilder assembles a structured operation from parsed tokens.
// Argument values that parse as integers, booleans or floating-point
// numbers are typed as long, boolean or double; everything else stays a
// string, with surrounding double quotes removed.
type OperationBuilder struct {
	operation   *model.Value
	pendingType string
}

var _ RequestBuilder = (*OperationBuilder)(nil)

// NewOperationBuilder starts a request whose address begins with prefix.
func NewOperationBuilder(prefix model.Address) *OperationBuilder {
	op := model.NewObject()
	op.Get(model.KeyOperation)
	op.Get(model.KeyAddress).Set(prefix.ToValue())
	return &OperationBuilder{operation: op}
}

func (b *OperationBuilder) AddNode(nodeType, nodeName string) error {
	if b.pendingType != "" {
		return formatErrorf("node type %q is missing its name", b.pendingType)
	}
	b.operation.Get(model.KeyAddress).AddPair(nodeType, nodeName)
	return nil
}

func (b *OperationBuilder) AddNodeName(name string) error {
	if b.pendingType != "" {
		nodeType := b.pendingType
		b.pendingType = ""
		return b.AddNode(nodeType, name)
	}
	b.operation.Get(model.KeyAddress).AddPair("*", name)
	return nil
}

// AddNodeType records a type-only element, completed by the next bare
// name token. Used by the prefix commands.
func (b *OperationBuilder) AddNodeType(nodeType string) error {
	if b.pendingType != "" {
		return formatErrorf("node type %q is missing its name", b.pendingType)
	}
	b.pendingType = nodeType
	return nil
}

func (b *OperationBuilder) SetOperationName(name string) error {
	b.operation.Get(model.KeyOperation).SetString(name)
	return nil
}

func (b *OperationBuilder) AddArgument(name, value string) error {
	b.operation.Get(name).Set(parseScalar(value))
	return nil
}

// Operation returns the assembled operation.
func (b *OperationBuilder) Operation() (*model.Value, error) {
	if b.pendingType != "" {
		return nil, formatErrorf("node type %q is missing its name", b.pendingType)
	}
	if !b.operation.HasDefined(model.KeyOperation) {
		return nil, formatErrorf("the operation name is missing")
	}
	return b.operation, nil
}

func parseScalar(value string) *model.Value {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return model.NewLong(n)
	}
	if value == "true" || value == "false" {
		return model.NewBoolean(value == "true")
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return model.NewDouble(f)
	}
	return model.NewString(strings.Trim(value, `"`))
}
