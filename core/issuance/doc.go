// Package issuance orchestrates the ACME order, authorization, challenge,
// finalize, and download sequence for tenant hostnames.
//
// Initiation is synchronous: RequestHTTP01 and InitiateDNS01 set up the
// order with the CA, persist a pending certificate record, and return
// immediately. The long-tail validation and finalization work runs as a
// durable completion job (core/certjobs); the Service implements the
// worker's Processor interface, so a process restart resumes any pending
// record instead of orphaning it.
//
// Every CA interaction goes through the Driver seam. CADriver speaks the
// real protocol over golang.org/x/crypto/acme; SandboxDriver fabricates
// deterministic orders and self-signs a ~90-day certificate after a
// configured delay, driving the exact same state transitions, persistence
// writes, and agent notification with no network I/O. Callers cannot
// distinguish the modes except by the authenticity of the returned PEM.
//
// DNS-01 is two-phase and human-mediated: phase 1 returns the TXT record
// the domain owner must publish; phase 2 verifies propagation in-band
// (ErrPropagation is a retry hint) and then enqueues the finalize job.
package issuance
