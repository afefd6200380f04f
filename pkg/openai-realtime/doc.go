// Package openairealtime provides a WebSocket client for OpenAI's Realtime
// API.
//
// # Connecting
//
//	client := openairealtime.NewClient(apiKey)
//	session, err := client.ConnectWebSocket(ctx, &openairealtime.ConnectConfig{
//	    Model: openairealtime.ModelGPTRealtimeMini20251006,
//	})
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
// # Session Configuration
//
//	temp := 0.8
//	err = session.UpdateSession(&openairealtime.SessionConfig{
//	    Voice:             openairealtime.VoiceFable,
//	    Instructions:      "You are a helpful assistant.",
//	    Temperature:       &temp,
//	    TurnDetection:     &openairealtime.TurnDetection{Type: openairealtime.VADServerVAD},
//	    InputAudioFormat:  openairealtime.AudioFormatPCM16,
//	    OutputAudioFormat: openairealtime.AudioFormatPCM16,
//	})
//
// # Sending Audio
//
//	// PCM 16-bit, 24kHz, mono
//	err = session.AppendAudio(pcmData)
//
// # Receiving Events
//
// Events yields server events in delivery order. A *ParseError marks one
// undecodable message and the stream goes on; any other error ends it.
//
//	for event, err := range session.Events() {
//	    var perr *openairealtime.ParseError
//	    if errors.As(err, &perr) {
//	        continue
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    switch {
//	    case event.IsAudioDelta():
//	        playAudio(event.Audio)
//	    case event.IsTranscriptDone():
//	        fmt.Println(event.Transcript)
//	    }
//	}
package openairealtime
