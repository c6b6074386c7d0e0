// Package cameratexture streams frames from a capture device into a texture
// through a single shared frame slot.
//
// Philosophy: "Latest frame wins. No queue, no history."
//
// The producer runs on the GStreamer streaming thread: each decoded RGB sample
// is expanded into the slot's RGBx layout under a short exclusive lock. The
// consumer runs at display rate: each tick copies the slot into the texture
// under shared access. Neither side blocks the other for longer than one
// frame copy.
//
// # Quick Start
//
//	cfg := cameratexture.DefaultConfig() // v4l2 /dev/video0, 176x144
//
//	capture, err := cameratexture.NewCapture(cfg)
//	if err != nil {
//	    log.Fatal(err) // errors.Is(err, cameratexture.ErrMissingCapability)
//	}
//	defer capture.Stop()
//
//	if err := capture.Start(ctx); err != nil {
//	    log.Fatal(err) // errors.Is(err, cameratexture.ErrCapabilityMismatch)
//	}
//
//	consumer := cameratexture.NewConsumer(texture)
//	if err := consumer.Attach(capture.Slot()); err != nil {
//	    log.Fatal(err)
//	}
//	go consumer.Run(ctx, time.Second/60)
//
//	select {
//	case fault := <-capture.Faults():
//	    log.Printf("pipeline stopped: %v", fault) // texture keeps the last frame
//	case <-ctx.Done():
//	}
//
// # Lifecycle
//
//	Uninitialized → Playing → (EOS | Error) → Null
//
// Null is terminal for a pipeline instance. Faults are observed on a
// dedicated watcher goroutine, never on the consumer tick. Once a pipeline is
// Null no sample reaches the slot again; the slot keeps the last good frame.
//
// # Frame Format
//
//   - Source: interleaved RGB, Width × Height × 3 bytes
//   - Slot: interleaved RGBx, Width × Height × 4 bytes, 4th byte is padding
//   - Example (176x144): 76,032 source bytes → 101,376 slot bytes
//
// # Errors
//
// Construction errors (ErrMissingCapability, ErrCapabilityMismatch) are
// returned by NewCapture and Start. Per-sample errors (ErrDataAcquisition,
// ErrBufferAccess, ErrFormatInterpretation) drop the sample and are counted in
// Stats. Runtime faults (*PipelineFault) end the pipeline and are delivered on
// Faults. A slot poisoned by a crashed writer (ErrPoisonedSharedState) panics
// on access until the capture is restarted.
package cameratexture
