// Package bucket holds the content-addressed log primitives.
//
// A Log is a named, append-only sequence of content addresses in which every
// entry points at the address of the entry before it (the first points at
// address.Genesis). VerifyChain walks a sequence of entries and reports the
// first broken link. An Index records which bucket an address currently lives
// in and every move it has made.
//
// Entries may be signed with an HMAC Keyring so that a copied log can be
// checked for tampering as well as for breaks in the chain.
package bucket
