// Package hostguard rejects hostnames that resolve to internal address
// space before the engine takes any network action against them.
//
// A tenant-supplied hostname drives outbound validation traffic, so a name
// pointing at loopback, RFC1918, link-local, or multicast ranges is an SSRF
// vector. The guard normalizes the name via IDNA, refuses literal IPs and
// malformed names, resolves every A/AAAA answer, and fails if any address
// falls in a disallowed range.
//
//	guard := hostguard.New()
//	if err := guard.AssertExternal(ctx, hostname); err != nil {
//		// errors.Is(err, hostguard.ErrDisallowedHost) etc.
//	}
//
// The resolver is injectable for tests.
package hostguard
