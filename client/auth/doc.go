// Package auth holds the preemptive authentication cache shared by every
// request a client executes.
//
// The cache maps a [Host] identity (scheme, hostname, port) to the [Scheme]
// that should be presented on the first request to that host, skipping the
// usual 401 challenge round trip:
//
//	cache := auth.NewCache()
//	cache.EnableBasic("api.example.com")
//	cache.EnableDigest("https://files.example.com", "files", "dcd98b71")
//
// The cache stores which scheme to use, never the secret. Credentials are a
// single process-wide [Credentials] value held by the client and handed to
// [Scheme.Authorize] at dispatch time.
package auth
