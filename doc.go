/*
Package castellan is the management control plane of a clustered
application server: a hierarchical, addressable configuration model that
accepts structured operations, executes them transactionally, and
exposes that capability over a binary wire protocol and an HTTP/JSON
gateway.

# Concept

The configuration lives in a single tree of dynamic values, navigated by
addresses of (type, name) pairs such as /subsystem=web. Behavior is
pluggable: operation handlers are registered in a trie keyed by those
same addresses, and a handler found at an ancestor with the inherited
flag answers for every descendant. A proxy controller registered at an
address absorbs the whole subtree and forwards operations to a remote
controller with the address rebased, which is how a domain controller
federates host controllers.

# Key Features

  - Transactional composites: a composite operation runs its steps
    against a cloned working model and merges all-or-nothing, with a
    compensating composite (steps reversed) to undo it.
  - Asynchronous execution: results stream through sinks as fragments
    followed by exactly one terminal; in-flight operations can be
    cancelled by request id over the wire.
  - Pluggable persistence: the model is stored after every successful
    mutation through a configuration persister (file, memory or Redis).
  - Thin gateways: the HTTP bridge at /domain-api and the interactive
    shell only translate their surface syntax into operations.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/castellan-io/castellan"
		"github.com/castellan-io/castellan/pkg/model"
		"github.com/castellan-io/castellan/pkg/persistence/memory"
	)

	func main() {
		server, err := castellan.New("example", castellan.WithPersister(memory.New()))
		if err != nil {
			log.Fatal(err)
		}

		op := model.Operation("add", model.NewAddress(model.Element("subsystem", "web")))
		op.Get("port").SetInt(8080)
		result := server.Execute(context.Background(), op)
		log.Println(result.Get("outcome").AsString())
	}
*/
package castellan
