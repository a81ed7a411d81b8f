package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"astro-live-stacker/camera"
	"astro-live-stacker/config"
	"astro-live-stacker/pipeline"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{WebPort: 8080, BindIP: "127.0.0.1"},
		Storage: config.StorageConfig{DataDir: "data"},
	}
}

// openTestInstance opens a sim camera and starts a stream that discards frames
func openTestInstance(t *testing.T) *camera.Instance {
	t.Helper()
	logger := zaptest.NewLogger(t)

	drv, err := camera.NewSimDriver(0)
	if err != nil {
		t.Fatalf("Failed to create sim driver: %v", err)
	}
	inst := camera.NewInstance(drv, logger)
	if err := inst.OpenCamera(0); err != nil {
		t.Fatalf("Failed to open camera: %v", err)
	}
	t.Cleanup(func() { inst.CloseCamera() })

	format := camera.StreamFormat{Type: camera.StreamRaw8, Width: 64, Height: 48, Bin: 1, Framerate: 30}
	if err := inst.StartStream(format, func(camera.Frame) {}); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}
	return inst
}

// TestStackerStartQueuesInit verifies a start request queues exactly one
// init command carrying the stream and option snapshot
func TestStackerStartQueuesInit(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	h.SetInstance(openTestInstance(t))

	control := pipeline.NewQueue()
	h.SetPipeline(nil, control, nil)

	body := `{"name":"m31","save_data":true,"ra":10.68,"de":41.27,"auto_stretch":true}`
	req := httptest.NewRequest("POST", "/api/stacker/start", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleAPIStackerStart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Start returned %d: %s", w.Code, w.Body.String())
	}

	msg, ok := control.TryPop()
	if !ok {
		t.Fatal("No command reached the control queue")
	}
	cmd, ok := msg.(*pipeline.ControlCommand)
	if !ok || cmd.Op != pipeline.CtlInit {
		t.Fatalf("Queued message = %T %v, want init command", msg, msg)
	}

	if cmd.Name != "m31" {
		t.Errorf("Name = %q, want m31", cmd.Name)
	}
	if !cmd.SaveInputs {
		t.Error("SaveInputs not carried over")
	}
	if cmd.Format != "raw8" || cmd.Width != 64 || cmd.Height != 48 {
		t.Errorf("Stream snapshot = %s %dx%d, want raw8 64x48", cmd.Format, cmd.Width, cmd.Height)
	}
	if cmd.Target.RA != 10.68 || cmd.Target.DE != 41.27 {
		t.Errorf("Target = %+v, want ra 10.68 de 41.27", cmd.Target)
	}
	if len(cmd.CameraConfig) == 0 {
		t.Error("Camera option snapshot is empty")
	}
	if !strings.HasPrefix(cmd.OutputPath, "data/") || !strings.Contains(cmd.OutputPath, "m31") {
		t.Errorf("OutputPath = %q, want data/m31_<timestamp>", cmd.OutputPath)
	}

	if _, ok := control.TryPop(); ok {
		t.Error("More than one command queued")
	}
}

// TestStackerStartWithoutStream verifies start is rejected while no
// stream is running
func TestStackerStartWithoutStream(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := NewHandlers(testConfig(), logger)

	drv, err := camera.NewSimDriver(0)
	if err != nil {
		t.Fatalf("Failed to create sim driver: %v", err)
	}
	inst := camera.NewInstance(drv, logger)
	if err := inst.OpenCamera(0); err != nil {
		t.Fatalf("Failed to open camera: %v", err)
	}
	defer inst.CloseCamera()
	h.SetInstance(inst)

	control := pipeline.NewQueue()
	h.SetPipeline(nil, control, nil)

	req := httptest.NewRequest("POST", "/api/stacker/start", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	h.HandleAPIStackerStart(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Start without stream returned %d, want 409", w.Code)
	}
	if _, ok := control.TryPop(); ok {
		t.Error("Command queued despite rejection")
	}
}

// TestStackerControlRejectsUnknownOp verifies unknown operations never
// reach the queue
func TestStackerControlRejectsUnknownOp(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	control := pipeline.NewQueue()
	h.SetPipeline(nil, control, nil)

	for _, body := range []string{
		`{"operation":"restart"}`,
		`{"operation":"init"}`,
		`{"operation":"update"}`,
		`not json`,
	} {
		req := httptest.NewRequest("POST", "/api/stacker/control", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.HandleAPIStackerControl(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q returned %d, want 400", body, w.Code)
		}
	}
	if _, ok := control.TryPop(); ok {
		t.Error("Rejected operation reached the control queue")
	}
}

// TestStackerControlQueuesOps verifies valid operations are queued in order
func TestStackerControlQueuesOps(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	control := pipeline.NewQueue()
	h.SetPipeline(nil, control, nil)

	for _, op := range []string{"pause", "resume", "save", "cancel"} {
		req := httptest.NewRequest("POST", "/api/stacker/control",
			strings.NewReader(`{"operation":"`+op+`"}`))
		w := httptest.NewRecorder()
		h.HandleAPIStackerControl(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Operation %s returned %d", op, w.Code)
		}
	}

	want := []pipeline.ControlOp{pipeline.CtlPause, pipeline.CtlResume, pipeline.CtlSave, pipeline.CtlCancel}
	for i, wantOp := range want {
		msg, ok := control.TryPop()
		if !ok {
			t.Fatalf("Missing command %d", i)
		}
		cmd := msg.(*pipeline.ControlCommand)
		if cmd.Op != wantOp {
			t.Errorf("Command %d = %v, want %v", i, cmd.Op, wantOp)
		}
	}
}

// TestStretchUpdate verifies the stretch endpoint queues an update command
func TestStretchUpdate(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	control := pipeline.NewQueue()
	h.SetPipeline(nil, control, nil)

	body := `{"auto_stretch":false,"stretch_low":0.05,"stretch_high":0.95,"stretch_gamma":2.4}`
	req := httptest.NewRequest("POST", "/api/stacker/stretch", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleAPIStackerStretch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Stretch returned %d", w.Code)
	}

	msg, _ := control.TryPop()
	cmd, ok := msg.(*pipeline.ControlCommand)
	if !ok || cmd.Op != pipeline.CtlUpdate {
		t.Fatalf("Queued message = %T, want update command", msg)
	}
	if cmd.Stretch.Gamma != 2.4 || cmd.Stretch.Auto {
		t.Errorf("Stretch = %+v, want gamma 2.4 manual", cmd.Stretch)
	}
}

// TestOptionEndpoints verifies option listing and the set/reject paths
func TestOptionEndpoints(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	h.SetInstance(openTestInstance(t))

	req := httptest.NewRequest("GET", "/api/camera/options", nil)
	w := httptest.NewRecorder()
	h.HandleAPIOptions(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Option list returned %d", w.Code)
	}

	var listed struct {
		Options []optionInfo `json:"options"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("Failed to decode option list: %v", err)
	}
	if len(listed.Options) == 0 {
		t.Fatal("Sim camera reported no options")
	}
	for _, opt := range listed.Options {
		if opt.ID == "" || opt.Label == "" {
			t.Errorf("Option missing id or label: %+v", opt)
		}
	}

	// Set a supported option
	req = httptest.NewRequest("POST", "/api/camera/options",
		strings.NewReader(`{"option":"gain","value":50}`))
	w = httptest.NewRecorder()
	h.HandleAPIOptions(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Set gain returned %d: %s", w.Code, w.Body.String())
	}

	// Unknown option id is rejected
	req = httptest.NewRequest("POST", "/api/camera/options",
		strings.NewReader(`{"option":"warp_drive","value":9}`))
	w = httptest.NewRecorder()
	h.HandleAPIOptions(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Unknown option returned %d, want 400", w.Code)
	}
}

// TestPreviewEndpoint verifies the preview endpoint serves the latest
// frame and 404s before the first one
func TestPreviewEndpoint(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))

	in := pipeline.NewQueue()
	sink := pipeline.NewPreviewSink(in, zaptest.NewLogger(t))
	h.SetPipeline(sink, pipeline.NewQueue(), nil)

	req := httptest.NewRequest("GET", "/api/preview/current", nil)
	w := httptest.NewRecorder()
	h.HandleAPIPreview(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Preview before first frame returned %d, want 404", w.Code)
	}

	done := make(chan struct{})
	go func() {
		sink.Run()
		close(done)
	}()
	in.Push(&pipeline.ProcessedFrame{Preview: []byte("jpeg-bytes")})
	in.Push(pipeline.Shutdown{})
	<-done

	w = httptest.NewRecorder()
	h.HandleAPIPreview(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Preview returned %d", w.Code)
	}
	if got := w.Body.String(); got != "jpeg-bytes" {
		t.Errorf("Preview body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s, want image/jpeg", ct)
	}
	if seq := w.Header().Get("X-Frame-Sequence"); seq != "1" {
		t.Errorf("X-Frame-Sequence = %s, want 1", seq)
	}
}

// TestStatusEndpoint verifies queue depths surface in the status response
func TestStatusEndpoint(t *testing.T) {
	h := NewHandlers(testConfig(), zaptest.NewLogger(t))
	h.SetPipeline(nil, pipeline.NewQueue(), func() map[string]int {
		return map[string]int{"input": 3, "live": 0}
	})

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	h.HandleAPIStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status returned %d", w.Code)
	}

	var status struct {
		Queues map[string]int `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Queues["input"] != 3 {
		t.Errorf("Queue depth input = %d, want 3", status.Queues["input"])
	}
}
