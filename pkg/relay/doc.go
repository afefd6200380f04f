// Package relay implements the per-call bridge between a browser audio
// transport and the OpenAI Realtime API.
//
// A Handler owns exactly one upstream Session. Inbound transport frames are
// forwarded with OnFrame; upstream events are classified by the loop that
// StartUp runs and turned into OutputItems (AudioChunk or TranscriptEvent)
// on an OutputQueue, which the transport drains with Emit. When the upstream
// reports that the user started speaking, every queued item is dropped so
// stale assistant audio is never played (barge-in).
//
// Handlers are not reused across calls; use a Factory to build a fresh one
// per call:
//
//	factory := relay.NewFactory(relay.ClientDialer{Client: client}, relay.DefaultOptions())
//	h := factory()
//	go h.StartUp(ctx)
//	transport.OnFrame(h.OnFrame)
//	for {
//	    item, err := h.Emit(ctx)
//	    if err != nil {
//	        break
//	    }
//	    transport.Send(item)
//	}
//	h.Shutdown()
package relay
