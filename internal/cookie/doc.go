// Package cookie implements the cookie-file sync barrier.
//
// A barrier answers "has every change that happened before now been
// observed?" for a set of watched directories. Sync writes a uniquely named
// empty file into each directory and registers it in a pending map. The
// notification backend reports each file back through NotifyCookie, in the
// same serialized order as real changes. Once every file of a request has
// been reported, the request's Result resolves successfully.
//
// Usage:
//
//	s, err := cookie.NewSync(root)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	// watcher goroutine
//	if s.IsCookiePrefix(ev.Name) {
//	    s.NotifyCookie(ev.Name)
//	}
//
//	// request goroutine
//	if err := s.SyncToNow(ctx, 30*time.Second); err != nil {
//	    return err
//	}
//
// AbortAllCookies force-fails every pending barrier. Callers run it when the
// watcher discards accumulated state, for example after a queue overflow.
package cookie
