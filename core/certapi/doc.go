// Package certapi exposes the operator control surface and the ACME
// HTTP-01 challenge responder over echo.
//
// Authenticated /ops routes drive issuance, DNS-01 completion, renewal
// runs, and the certificate health report. The unauthenticated
// /.well-known/acme-challenge responder serves key authorizations for
// pending HTTP-01 records, and /health/live + /health/ready expose
// process liveness and dependency readiness.
//
// Usage:
//
//	api, err := certapi.New(storage, service, scheduler, certapi.Config{
//		SharedSecret: secret,
//	}, certapi.WithReadinessCheck("postgres", db.Healthcheck))
//	if err != nil {
//		return err
//	}
//
//	e := echo.New()
//	api.Register(e)
package certapi
