// Package stream exposes an in-flight HTTP exchange as a lazily produced
// sequence of body chunks.
//
// An [Exchange] is handed to the caller before the request is sent. Once
// headers arrive its [Response] carries the status line and header fields,
// while the body is delivered chunk by chunk through [Response.Chunks]:
//
//	resp, err := x.Response(ctx)
//	if err != nil {
//		return err
//	}
//	for chunk, err := range resp.Chunks() {
//		if err != nil {
//			return err
//		}
//		process(chunk)
//	}
//
// A body that is never read does not pin its connection: when nobody starts
// reading it within the stall timeout the exchange is aborted with
// [ErrStalled]. Once reading has started the consumer may take as long as
// it needs between chunks.
package stream
