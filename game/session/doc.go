// Package session owns the live metro worlds served by the API.
//
// A Manager maps short session IDs (4 hex characters from crypto/rand, stored
// lowercase) to service.Session values, each holding its own engine.World.
// Lookups are case-insensitive and refresh LastAccessedAt, which drives
// CleanupExpiredSessions.
//
// Persistence:
//
// When a SessionPersistence is attached, sessions are written as
// sessions/<id>.json containing PersistedSessionData. The document embeds the
// full world snapshot, config included, so a session restores exactly even
// after its config file changes or disappears. Writes go to a .tmp file first
// and are renamed into place.
//
// Usage:
//
//	fp, _ := session.NewFilePersistence("sessions", configs, log)
//	manager := session.NewManagerWithPersistence(fp, session.WithLogger(log))
//	if err := manager.LoadPersistedSessions(); err != nil {
//		log.Warn(ctx, "restore failed", logging.Err(err))
//	}
//
//	sess, err := manager.Create("", "classic", cfg)
//	...
//	manager.SaveAllSessions()
package session
