// Package talker is the client side of a voice and text chat service.
//
// # Overview
//
// The package provides:
//   - An AudioManager owning one recording and one playback lifecycle
//   - A push client for the backend WebSocket with auto-reconnection
//   - A REST client for sessions, messages, transcription and synthesis
//   - Chat state that merges push events and REST responses
//   - A voice input controller tying recording, transcription and chat together
//   - File backed user settings with live reload
//   - Structured logging with Zerolog
//
// # Quick Start
//
//	config := talker.NewConfig()
//	client, err := talker.NewClient(talker.ClientOptions{Config: config})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Cleanup()
//
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Voice.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	time.Sleep(3 * time.Second)
//	text, err := client.Voice.Stop(ctx)
//
// # Audio Manager
//
// All recording and playback state lives on one goroutine. Exported methods
// run on it and return after the transition. Device work that blocks runs on
// helper goroutines whose results are tagged with a generation number, so a
// stop issued while a device is still opening, or a second PlayAudio issued
// while the first track is loading, always wins.
//
// Observers get every state change in order:
//
//	sub := manager.SubscribeRecording()
//	defer sub.Close()
//	for s := range sub.C() {
//		fmt.Printf("%.1fs level %.2f\n", s.Duration, s.AudioLevel)
//	}
//
// Timers come from an injected clockwork.Clock, so tests can advance time
// with a fake clock.
//
// # Devices
//
// PortAudioInput and SpeakerOutput need cgo. Without it they fail with
// AUDIO_DEVICE_ERROR and PLAYBACK_ERROR respectively; any Input and Output
// implementation can be passed in ManagerOptions instead.
//
// # Configuration
//
// Config is read from the environment (prefix TALKER_) and an optional .env
// file:
//
//	TALKER_API_URL=http://localhost:8000/api
//	TALKER_WS_URL=ws://localhost:8000/ws
//	TALKER_LOG_LEVEL=debug
//
// # Errors
//
// Every failure is a *TalkerError with a code. Use errors.Is against the
// exported sentinels or IsErrorCode:
//
//	if errors.Is(err, talker.ErrPermissionDenied) {
//		// ask the user to allow microphone access
//	}
package talker
