// Package peer implements the outbound peer-agent collaborator. The Loopback
// caller routes peer calls back into the local exchange, giving handlers a
// RemoteTask handle with the same semantics a remote transport would offer.
package peer
