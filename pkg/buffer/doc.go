// Package buffer provides a thread-safe blocking FIFO for streaming data
// between goroutines.
//
// Buffer grows without bound, blocks readers while it is empty and can be
// drained in one step with Reset. A typical producer/consumer pair:
//
//	q := buffer.N[Item](64)
//
//	// producer
//	q.Add(item)
//
//	// consumer
//	for {
//		item, err := q.NextContext(ctx)
//		if err != nil {
//			return err // ctx.Err() or ErrIteratorDone
//		}
//		handle(item)
//	}
//
//	// discard everything still pending
//	dropped := q.Reset()
//
// CloseWrite() stops writes and lets readers drain what is left.
package buffer
