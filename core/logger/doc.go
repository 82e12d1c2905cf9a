// Package logger provides slog construction and nil-safe attribute helpers
// shared by the certificate-lifecycle components.
//
// Attribute helpers return an empty slog.Attr for zero values, so call sites
// never need nil checks:
//
//	log.InfoContext(ctx, "certificate issued",
//		logger.Hostname(cert.Hostname),
//		logger.CertificateID(cert.ID),
//		logger.Error(err), // dropped when err is nil
//	)
//
// New builds a *slog.Logger from options or environment configuration:
//
//	log := logger.New(
//		logger.WithFormat(logger.FormatJSON),
//		logger.WithLevel(slog.LevelDebug),
//	)
package logger
