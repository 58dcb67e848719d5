// Package registry implements the registration trie: a tree keyed by
// path-address elements where each node owns a description provider, an
// operation-handler map, an attribute map, child sub-registries and an
// optional proxy controller that absorbs the whole subtree.
//
// Registration is rare and lookups are hot, so the per-node maps are
// copy-on-write: writers swap a fresh map under the node mutex, readers
// load an immutable snapshot without locking.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

var (
	// ErrDuplicateHandler is returned when an operation name is registered
	// twice at the same node.
	ErrDuplicateHandler = errors.New("operation handler already registered")
	// ErrProxied is returned when registering under an address absorbed by
	// a proxy controller.
	ErrProxied = errors.New("address is absorbed by a proxy controller")
	// ErrProxyConflict is returned when a proxy registration overlaps an
	// existing registration.
	ErrProxyConflict = errors.New("proxy conflicts with existing registrations")
)

// StorageType says where an attribute's value lives.
type StorageType int

const (
	// StorageConfiguration attributes persist in the configuration model.
	StorageConfiguration StorageType = iota
	// StorageRuntime attributes reflect live runtime state only.
	StorageRuntime
)

// AttributeAccess describes how an attribute is read and written. A nil
// Write marks the attribute read-only.
type AttributeAccess struct {
	Read    ports.OperationHandler
	Write   ports.OperationHandler
	Storage StorageType
}

type operationEntry struct {
	handler     ports.OperationHandler
	description ports.DescriptionProvider
	inherited   bool
}

// subRegistry is the two-level child map step: a node's children are
// keyed by type, each type mapping instance names to nodes.
type subRegistry struct {
	keyString string
	parent    *Node

	mu       sync.Mutex
	children atomic.Pointer[map[string]*Node]
}

// Node is a single registration in the trie. The root node is created by
// NewRoot; descendants by RegisterSubModel.
type Node struct {
	valueString string
	parent      *subRegistry
	description ports.DescriptionProvider

	mu         sync.Mutex
	operations atomic.Pointer[map[string]operationEntry]
	attributes atomic.Pointer[map[string]AttributeAccess]
	children   atomic.Pointer[map[string]*subRegistry]
	proxy      atomic.Pointer[proxyBox]
}

type proxyBox struct {
	proxy ports.ProxyController
}

var _ ports.RegistryView = (*Node)(nil)

// NewRoot creates the root of a registration trie.
func NewRoot(description ports.DescriptionProvider) *Node {
	if description == nil {
		description = ports.NoDescription
	}
	n := &Node{description: description}
	n.storeEmptyMaps()
	return n
}

func (n *Node) storeEmptyMaps() {
	ops := map[string]operationEntry{}
	attrs := map[string]AttributeAccess{}
	kids := map[string]*subRegistry{}
	n.operations.Store(&ops)
	n.attributes.Store(&attrs)
	n.children.Store(&kids)
}

// RegisterSubModel creates the child node for a path element with its
// description provider. When the node already exists it is returned as it
// is and the description argument is ignored.
func (n *Node) RegisterSubModel(element model.PathElement, description ports.DescriptionProvider) (*Node, error) {
	if n.proxied() {
		return nil, fmt.Errorf("%w: %s", ErrProxied, n.location())
	}
	if description == nil {
		description = ports.NoDescription
	}
	sub := n.subRegistryFor(element.Key, true)
	return sub.nodeFor(element.Value, description), nil
}

// RegisterOperationHandler attaches a handler for an operation name at
// this node. Inherited handlers propagate to every descendant that does
// not shadow the name.
func (n *Node) RegisterOperationHandler(name string, handler ports.OperationHandler, description ports.DescriptionProvider, inherited bool) error {
	if n.proxied() {
		return fmt.Errorf("%w: %s", ErrProxied, n.location())
	}
	if description == nil {
		description = ports.NoDescription
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ops := *n.operations.Load()
	if _, exists := ops[name]; exists {
		return fmt.Errorf("%w: %q at %s", ErrDuplicateHandler, name, n.location())
	}
	next := make(map[string]operationEntry, len(ops)+1)
	for k, v := range ops {
		next[k] = v
	}
	next[name] = operationEntry{handler: handler, description: description, inherited: inherited}
	n.operations.Store(&next)
	return nil
}

// UnregisterOperationHandler removes a handler registration.
func (n *Node) UnregisterOperationHandler(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ops := *n.operations.Load()
	if _, exists := ops[name]; !exists {
		return
	}
	next := make(map[string]operationEntry, len(ops))
	for k, v := range ops {
		if k != name {
			next[k] = v
		}
	}
	n.operations.Store(&next)
}

// RegisterAttribute attaches attribute access metadata at this node.
func (n *Node) RegisterAttribute(name string, access AttributeAccess) error {
	if n.proxied() {
		return fmt.Errorf("%w: %s", ErrProxied, n.location())
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	attrs := *n.attributes.Load()
	next := make(map[string]AttributeAccess, len(attrs)+1)
	for k, v := range attrs {
		next[k] = v
	}
	next[name] = access
	n.attributes.Store(&next)
	return nil
}

// RegisterProxyController claims the subtree at address for a remote
// controller. The registration is rejected when the address crosses an
// existing proxy or the target node already carries local registrations.
func (n *Node) RegisterProxyController(address model.Address, proxy ports.ProxyController) error {
	if address.Size() == 0 {
		return fmt.Errorf("%w: cannot proxy the root", ErrProxyConflict)
	}
	node := n
	for _, element := range address {
		if node.proxied() {
			return fmt.Errorf("%w: %s is already proxied", ErrProxyConflict, node.location())
		}
		sub := node.subRegistryFor(element.Key, true)
		node = sub.nodeFor(element.Value, ports.NoDescription)
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.proxied() {
		return fmt.Errorf("%w: %s is already proxied", ErrProxyConflict, node.location())
	}
	if len(*node.operations.Load()) > 0 || len(*node.children.Load()) > 0 || len(*node.attributes.Load()) > 0 {
		return fmt.Errorf("%w: registrations exist under %s", ErrProxyConflict, node.location())
	}
	node.proxy.Store(&proxyBox{proxy: proxy})
	return nil
}

// UnregisterProxyController removes the proxy at address, if any.
func (n *Node) UnregisterProxyController(address model.Address) {
	node := n.walk(address)
	if node != nil {
		node.proxy.Store(nil)
	}
}

// HandlerFor returns the handler for (address, name): the handler at the
// exact node when present, else the nearest ancestor handler registered
// as inherited. Nil when the address is proxied or nothing matches.
func (n *Node) HandlerFor(address model.Address, name string) ports.OperationHandler {
	var inherited ports.OperationHandler
	node := n
	for depth := 0; ; depth++ {
		if node.proxied() {
			return nil
		}
		ops := *node.operations.Load()
		if entry, ok := ops[name]; ok {
			if depth == address.Size() {
				return entry.handler
			}
			if entry.inherited {
				inherited = entry.handler
			}
		}
		if depth == address.Size() {
			return inherited
		}
		node = node.child(address[depth])
		if node == nil {
			return inherited
		}
	}
}

// AttributeFor returns the attribute access registered at the address.
func (n *Node) AttributeFor(address model.Address, name string) (AttributeAccess, bool) {
	node := n.walk(address)
	if node == nil || node.proxied() {
		return AttributeAccess{}, false
	}
	access, ok := (*node.attributes.Load())[name]
	return access, ok
}

// ProxyFor returns the proxy controller owning the address: the proxy
// registered at the address itself or at any of its ancestors.
func (n *Node) ProxyFor(address model.Address) ports.ProxyController {
	node := n
	for depth := 0; ; depth++ {
		if box := node.proxy.Load(); box != nil {
			return box.proxy
		}
		if depth == address.Size() {
			return nil
		}
		node = node.child(address[depth])
		if node == nil {
			return nil
		}
	}
}

// ProxiesUnder collects every proxy controller registered at or below the
// address.
func (n *Node) ProxiesUnder(address model.Address) []ports.ProxyController {
	node := n.walk(address)
	if node == nil {
		return nil
	}
	var out []ports.ProxyController
	node.collectProxies(&out)
	return out
}

func (n *Node) collectProxies(out *[]ports.ProxyController) {
	if box := n.proxy.Load(); box != nil {
		*out = append(*out, box.proxy)
		return
	}
	for _, sub := range *n.children.Load() {
		for _, child := range *sub.children.Load() {
			child.collectProxies(out)
		}
	}
}

// OperationNames returns the operation names visible at the address,
// including inherited names from ancestors. Sorted.
func (n *Node) OperationNames(address model.Address) []string {
	seen := map[string]struct{}{}
	node := n
	for depth := 0; ; depth++ {
		if node.proxied() {
			return nil
		}
		exact := depth == address.Size()
		for name, entry := range *node.operations.Load() {
			if exact || entry.inherited {
				seen[name] = struct{}{}
			}
		}
		if exact {
			break
		}
		node = node.child(address[depth])
		if node == nil {
			break
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OperationDescription returns the description for (address, name), from
// the exact node or the nearest inherited registration.
func (n *Node) OperationDescription(address model.Address, name string) *model.Value {
	var inherited ports.DescriptionProvider
	node := n
	for depth := 0; ; depth++ {
		if node.proxied() {
			return model.New()
		}
		if entry, ok := (*node.operations.Load())[name]; ok {
			if depth == address.Size() {
				return entry.description()
			}
			if entry.inherited {
				inherited = entry.description
			}
		}
		if depth == address.Size() {
			break
		}
		node = node.child(address[depth])
		if node == nil {
			break
		}
	}
	if inherited != nil {
		return inherited()
	}
	return model.New()
}

// Description returns the node description at the address.
func (n *Node) Description(address model.Address) *model.Value {
	node := n.walk(address)
	if node == nil || node.description == nil {
		return model.New()
	}
	return node.description()
}

// ChildNames returns the child type keys registered under the address.
func (n *Node) ChildNames(address model.Address) []string {
	node := n.walk(address)
	if node == nil || node.proxied() {
		return nil
	}
	kids := *node.children.Load()
	names := make([]string, 0, len(kids))
	for key := range kids {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// ChildAddresses returns the (type, name) elements registered under the
// address.
func (n *Node) ChildAddresses(address model.Address) []model.PathElement {
	node := n.walk(address)
	if node == nil || node.proxied() {
		return nil
	}
	var out []model.PathElement
	for key, sub := range *node.children.Load() {
		for value := range *sub.children.Load() {
			out = append(out, model.Element(key, value))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// AttributeNames returns the attribute names registered at the address.
func (n *Node) AttributeNames(address model.Address) []string {
	node := n.walk(address)
	if node == nil || node.proxied() {
		return nil
	}
	attrs := *node.attributes.Load()
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- internals ---

func (n *Node) proxied() bool {
	return n.proxy.Load() != nil
}

func (n *Node) walk(address model.Address) *Node {
	node := n
	for _, element := range address {
		node = node.child(element)
		if node == nil {
			return nil
		}
	}
	return node
}

func (n *Node) child(element model.PathElement) *Node {
	sub, ok := (*n.children.Load())[element.Key]
	if !ok {
		return nil
	}
	child, ok := (*sub.children.Load())[element.Value]
	if !ok {
		return nil
	}
	return child
}

func (n *Node) subRegistryFor(key string, create bool) *subRegistry {
	if sub, ok := (*n.children.Load())[key]; ok {
		return sub
	}
	if !create {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	kids := *n.children.Load()
	if sub, ok := kids[key]; ok {
		return sub
	}
	sub := &subRegistry{keyString: key, parent: n}
	empty := map[string]*Node{}
	sub.children.Store(&empty)
	next := make(map[string]*subRegistry, len(kids)+1)
	for k, v := range kids {
		next[k] = v
	}
	next[key] = sub
	n.children.Store(&next)
	return sub
}

func (s *subRegistry) nodeFor(value string, description ports.DescriptionProvider) *Node {
	if node, ok := (*s.children.Load())[value]; ok {
		return node
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kids := *s.children.Load()
	if node, ok := kids[value]; ok {
		return node
	}
	node := &Node{valueString: value, parent: s, description: description}
	node.storeEmptyMaps()
	next := make(map[string]*Node, len(kids)+1)
	for k, v := range kids {
		next[k] = v
	}
	next[value] = node
	s.children.Store(&next)
	return node
}

// location renders the node's canonical position for diagnostics. The
// parent link is only ever used for this.
func (n *Node) location() string {
	if n.parent == nil {
		return "/"
	}
	return n.parent.location() + n.valueString + ")"
}

func (s *subRegistry) location() string {
	prefix := s.parent.location()
	if prefix == "/" {
		prefix = ""
	}
	return prefix + "(" + s.keyString + "="
}
