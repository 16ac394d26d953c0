// Package client is an asynchronous HTTP client. Requests are dispatched
// on a bounded connection pool and every response is exposed as a lazy,
// cancellable sequence of body chunks.
//
// # Lifecycle
//
// Construction only validates; the pool runs between [Client.Start] and
// [Client.Stop]:
//
//	c, err := client.New(client.Config{
//		ConnectTimeout:   5 * time.Second,
//		SocketTimeout:    30 * time.Second,
//		MaxConnsPerRoute: 4,
//		MaxConnsTotal:    32,
//		Username:         "user",
//		Password:         "secret",
//	})
//	if err != nil {
//		return err
//	}
//	if err := c.Start(); err != nil {
//		return err
//	}
//	defer c.Stop()
//
// # Making Requests
//
// [Client.Execute] and the verb helpers return an [Exchange] without
// waiting for the network. Consume the body chunk by chunk:
//
//	x, err := c.Get(ctx, "https://api.example.com/v1/events")
//	if err != nil {
//		return err
//	}
//	for chunk, err := range x.Chunks(ctx) {
//		if err != nil {
//			return err
//		}
//		handle(chunk)
//	}
//
// or in one piece with [Exchange.Aggregate], which decodes the body with
// its declared charset.
//
// # Preemptive Authentication
//
// [Client.EnablePreemptiveBasicAuth] and [Client.EnablePreemptiveDigestAuth]
// make the client present the configured credentials on the first request
// to a host instead of waiting for a 401 challenge. Without a preemptive
// entry, a challenged request is answered once and the winning scheme is
// remembered for the host.
//
// For the pool and stream primitives see the
// [github.com/adamwoolhether/asynchttp/client/pool] and
// [github.com/adamwoolhether/asynchttp/client/stream] packages.
package client
