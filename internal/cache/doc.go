// Package cache implements the content-addressed image cache: it derives
// deterministic storage paths from URLs (<root>/image-cache/<group>/<key>),
// checks on-disk validity, and coordinates downloads so that a storage path
// never has more than one fetch in flight. The filesystem is reached through
// afero and the network through the Transport interface, keeping the package
// free of direct OS/HTTP dependencies. Manager is the facade used by the HTTP
// server and CLI; everything else is exported mainly for tests and wiring.
package cache
