// Package registry tracks which cluster nodes hold a subscription for a
// given address. It is the clustered analogue of Vert.x's "__vertx.subs"
// async multimap: every node that calls Node.Handle for an address adds
// itself here, and every node that sends or publishes consults it to find
// where to route the message.
//
// Backends in this package depend on the root clusterbus package for the
// Registry interface and NodeAddress type, never the other way around:
// clusterbus.Node picks one address out of a lookup's result itself
// (see its round-robin chooser) rather than importing a backend package
// to do it, which is what keeps a caller free to wire in whichever
// backend it likes through clusterbus.WithRegistry without this package
// ever importing the root one back.
package registry
