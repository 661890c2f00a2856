package usecase

import (
	"context"
	"fmt"
	"time"

	"livescribe/internal/audio"
	"livescribe/internal/domain"
	"livescribe/internal/metrics"
	"livescribe/internal/ports"
)

// captureSource mixes the session tracks into one mono source. A single
// track is used as is.
func captureSource(tracks []ports.AudioTrack) audio.SampleSource {
	if len(tracks) == 1 {
		return tracks[0]
	}
	inputs := make([]audio.MixInput, len(tracks))
	for i, track := range tracks {
		inputs[i] = audio.MixInput{Source: track, Gain: 1}
	}
	return audio.NewMixer(inputs...)
}

// runCaptureNode drives the capture processor until the source ends and then
// reports how it ended.
func runCaptureNode(src audio.SampleSource, proc *audio.CaptureProcessor, quantum int, done chan struct{}, onEnd func(error)) {
	err := audio.RunCaptureNode(src, proc, quantum)
	close(done)
	if onEnd != nil {
		onEnd(err)
	}
}

// pumpAudioFrames encodes every captured quantum to PCM, records it and sends
// it to the transcription socket. It returns when the capture port closes or
// the graph is disconnected.
func pumpAudioFrames(
	ctx context.Context,
	port <-chan []float32,
	recorder *audio.Recorder,
	socket ports.TranscriptionSocket,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	reported := false
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-port:
			if !ok {
				return
			}
			pcm := audio.EncodePCM16(frame)
			_, _ = recorder.Write(pcm)
			if err := socket.SendAudio(pcm); err != nil && !reported {
				reported = true
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to stream audio: %v", err))
			}
		}
	}
}

// waitForDone waits for the end-of-stream acknowledgment and reports why the
// wait ended.
func waitForDone(doneAck, socketClosed <-chan struct{}, timeout time.Duration, m *metrics.Metrics) domain.SessionStateReason {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneAck:
		return domain.SessionReasonFinished
	case <-socketClosed:
		select {
		case <-doneAck:
			return domain.SessionReasonFinished
		default:
			return domain.SessionReasonSocketFailed
		}
	case <-timer.C:
		m.DoneTimeout()
		return domain.SessionReasonDoneTimeout
	}
}
