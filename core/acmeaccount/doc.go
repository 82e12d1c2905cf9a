// Package acmeaccount bootstraps and caches the process-wide ACME
// account. The first Client call generates an EC256 account key, registers
// with the configured directory under the required contact email, and
// persists the encrypted key plus account URL exactly once. Later calls
// decrypt the stored key and rebuild a client bound to the existing
// account URL without touching the CA.
//
// Double registration is prevented twice: a process-local mutex serializes
// concurrent first calls within one instance, and the storage layer's
// at-most-once create catches races across instances — on conflict the
// loser re-reads and adopts the winner's account.
//
// There is no rotation or re-registration path. Replacing a compromised
// account key is an operational procedure: delete the account row and
// redeploy with fresh configuration.
package acmeaccount
