package capture

import "context"

// SystemDevices opens the host microphone through PortAudio and the camera
// through ffmpeg.
type SystemDevices struct {
	Camera       CameraConfig
	FrameSamples int
}

func (d SystemDevices) OpenMicrophone(ctx context.Context, sampleRate int) (AudioSource, error) {
	frames := d.FrameSamples
	if frames <= 0 {
		frames = FrameSamples
	}
	return openMicrophone(sampleRate, frames)
}

func (d SystemDevices) OpenCamera(ctx context.Context) (VideoSource, error) {
	return OpenFFmpegCamera(ctx, d.Camera)
}
