// Package persist stores a vstore state in a key-value backend and restores
// it when the store is created.
//
// The stored text is a codec.StorageValue, {"state": ..., "version": N} with
// the default JSON codec. When the stored version differs from the configured
// one the migrate function (or a Migrator) converts the stored state, and the
// result is written back at the current version.
//
//	p, err := persist.New[Prefs](
//	    persist.WithName("prefs"),
//	    persist.WithStorage[Prefs](persist.NewMemoryStorage()),
//	    persist.WithVersion[Prefs](2),
//	    persist.WithOmit[Prefs]("session"),
//	)
//	store := vstore.New(initPrefs, vstore.WithMiddleware(p.Middleware))
//
// Writes happen in the background after each transition. Call Flush to wait
// for them; it returns the errors of failed writes.
package persist
