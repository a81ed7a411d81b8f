package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"astro-live-stacker/camera"
	"astro-live-stacker/config"
	"astro-live-stacker/pipeline"
)

// Handlers manages HTTP request handlers
type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	registry *camera.Registry
	instance *camera.Instance
	preview  *pipeline.PreviewSink
	control  *pipeline.Q
	depths   func() map[string]int
	hub      *NotificationHub

	started time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:  cfg,
		logger:  logger,
		started: time.Now(),
	}
}

// SetRegistry sets the driver registry
func (h *Handlers) SetRegistry(registry *camera.Registry) {
	h.registry = registry
}

// SetInstance sets the camera instance
func (h *Handlers) SetInstance(instance *camera.Instance) {
	h.instance = instance
}

// SetPipeline wires the pipeline surfaces the API exposes: the preview
// sink, the converter input queue for control commands, and the queue
// depth probe.
func (h *Handlers) SetPipeline(preview *pipeline.PreviewSink, control *pipeline.Q, depths func() map[string]int) {
	h.preview = preview
	h.control = control
	h.depths = depths
}

// SetNotificationHub sets the websocket notification hub
func (h *Handlers) SetNotificationHub(hub *NotificationHub) {
	h.hub = hub
}

// HandleHome serves the service banner
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"service": "astro-live-stacker",
		"uptime":  time.Since(h.started).String(),
	})
}

// HandleAPIStatus returns the status of all components
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"server": map[string]interface{}{
			"web_port": h.config.Server.WebPort,
			"running":  true,
		},
	}

	if h.instance != nil {
		stream := map[string]interface{}{"running": false}
		if format, err := h.instance.StreamFormat(); err == nil {
			stream["running"] = true
			stream["format"] = format.String()
		}
		status["stream"] = stream
	}

	if h.depths != nil {
		status["queues"] = h.depths()
	}

	if h.hub != nil {
		status["notification_clients"] = h.hub.ClientCount()
	}

	h.writeJSONResponse(w, status)
}

// HandleAPIConfig returns the current configuration
func (h *Handlers) HandleAPIConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, h.config)
}

// HandleAPIDrivers lists loaded drivers in id order
func (h *Handlers) HandleAPIDrivers(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.writeErrorResponse(w, "Driver registry not available", http.StatusServiceUnavailable)
		return
	}

	names := h.registry.Drivers()
	drivers := make([]map[string]interface{}, len(names))
	for id, name := range names {
		drivers[id] = map[string]interface{}{"id": id, "name": name}
	}

	h.writeJSONResponse(w, map[string]interface{}{"drivers": drivers})
}

// HandleAPICameras lists the cameras of the active driver
func (h *Handlers) HandleAPICameras(w http.ResponseWriter, r *http.Request) {
	if h.instance == nil {
		h.writeErrorResponse(w, "No driver active", http.StatusServiceUnavailable)
		return
	}

	names, err := h.instance.Driver().Cameras()
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cameras := make([]map[string]interface{}, len(names))
	for id, name := range names {
		cameras[id] = map[string]interface{}{"id": id, "name": name}
	}

	h.writeJSONResponse(w, map[string]interface{}{"cameras": cameras})
}

// HandleAPIFormats lists the stream formats of the open camera
func (h *Handlers) HandleAPIFormats(w http.ResponseWriter, r *http.Request) {
	if h.instance == nil {
		h.writeErrorResponse(w, "No driver active", http.StatusServiceUnavailable)
		return
	}

	var formats []camera.StreamFormat
	err := h.instance.WithCamera(func(cam camera.Camera) error {
		var err error
		formats, err = cam.Formats()
		return err
	})
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, len(formats))
	for i, f := range formats {
		out[i] = map[string]interface{}{
			"format": f.Type.String(),
			"width":  f.Width,
			"height": f.Height,
			"bin":    f.Bin,
			"fps":    f.Framerate,
		}
	}

	h.writeJSONResponse(w, map[string]interface{}{"formats": out})
}

// optionInfo is the wire form of a camera option
type optionInfo struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Type     string  `json:"type"`
	ReadOnly bool    `json:"read_only"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Step     float64 `json:"step"`
	Default  float64 `json:"default"`
	Current  float64 `json:"cur"`
}

// HandleAPIOptions lists (GET) or sets (POST) camera options
func (h *Handlers) HandleAPIOptions(w http.ResponseWriter, r *http.Request) {
	if h.instance == nil {
		h.writeErrorResponse(w, "No driver active", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.listOptions(w)
	case http.MethodPost:
		h.setOption(w, r)
	default:
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) listOptions(w http.ResponseWriter) {
	var infos []optionInfo
	err := h.instance.WithCamera(func(cam camera.Camera) error {
		ids, err := cam.SupportedOptions()
		if err != nil {
			return err
		}
		for _, id := range ids {
			opt, err := cam.GetOption(id)
			if err != nil {
				return err
			}
			strID, err := id.StringID()
			if err != nil {
				return err
			}
			label, err := id.Label()
			if err != nil {
				return err
			}
			infos = append(infos, optionInfo{
				ID:       strID,
				Label:    label,
				Type:     opt.Type.String(),
				ReadOnly: opt.ReadOnly,
				Min:      opt.Min,
				Max:      opt.Max,
				Step:     opt.Step,
				Default:  opt.Default,
				Current:  opt.Current,
			})
		}
		return nil
	})
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{"options": infos})
}

func (h *Handlers) setOption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Option string  `json:"option"`
		Value  float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := camera.OptionIDFromString(req.Option)
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.instance.WithCamera(func(cam camera.Camera) error {
		return cam.SetOption(id, req.Value)
	})
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("Camera option set",
		zap.String("option", req.Option),
		zap.Float64("value", req.Value))
	h.writeJSONResponse(w, map[string]interface{}{"option": req.Option, "value": req.Value})
}

// HandleAPIPreview returns the latest preview JPEG
func (h *Handlers) HandleAPIPreview(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		h.writeErrorResponse(w, "Preview not available", http.StatusServiceUnavailable)
		return
	}

	data, seq := h.preview.Current()
	if len(data) == 0 {
		h.writeErrorResponse(w, "No frame received yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Frame-Sequence", strconv.FormatUint(seq, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// stackerStartRequest is the session description for a new stack
type stackerStartRequest struct {
	Name             string  `json:"name"`
	Calibration      bool    `json:"calibration"`
	SaveData         bool    `json:"save_data"`
	SourceGamma      float64 `json:"source_gamma"`
	RA               float64 `json:"ra"`
	DE               float64 `json:"de"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	Derotate         bool    `json:"derotate"`
	DerotateMirror   bool    `json:"derotate_mirror"`
	RollbackOnPause  bool    `json:"rollback_on_pause"`
	DarksPath        string  `json:"darks_path"`
	FlatsPath        string  `json:"flats_path"`
	DarkFlatsPath    string  `json:"dark_flats_path"`
	AutoStretch      bool    `json:"auto_stretch"`
	StretchLow       float64 `json:"stretch_low"`
	StretchHigh      float64 `json:"stretch_high"`
	StretchGamma     float64 `json:"stretch_gamma"`
	RemoveSatellites bool    `json:"remove_satellites"`
}

// HandleAPIStackerStart validates a start request, snapshots the stream
// and camera state, and queues the init command. Everything that can be
// rejected is rejected here, before the command reaches any queue.
func (h *Handlers) HandleAPIStackerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.control == nil || h.instance == nil {
		h.writeErrorResponse(w, "Pipeline not running", http.StatusServiceUnavailable)
		return
	}

	var req stackerStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	format, err := h.instance.StreamFormat()
	if err != nil {
		h.writeErrorResponse(w, "No stream running", http.StatusConflict)
		return
	}

	cmd := pipeline.NewInitCommand(format)
	if req.Name == "" {
		req.Name = "stack"
	}
	cmd.Name = req.Name
	cmd.OutputPath = filepath.Join(h.config.Storage.DataDir,
		fmt.Sprintf("%s_%s", req.Name, time.Now().Format("2006-01-02_15-04-05")))
	cmd.Calibration = req.Calibration
	cmd.SaveInputs = req.SaveData
	if req.SourceGamma > 0 {
		cmd.SourceGamma = req.SourceGamma
	}
	cmd.Location = pipeline.Location{Lat: req.Lat, Lon: req.Lon}
	cmd.Target = pipeline.Target{RA: req.RA, DE: req.DE}
	cmd.Derotate = req.Derotate
	cmd.DerotateMirror = req.DerotateMirror
	cmd.RollbackOnPause = req.RollbackOnPause
	cmd.DarksPath = req.DarksPath
	cmd.FlatsPath = req.FlatsPath
	cmd.DarkFlatsPath = req.DarkFlatsPath
	cmd.Stretch = pipeline.StretchParams{
		Auto:  req.AutoStretch,
		Low:   req.StretchLow,
		High:  req.StretchHigh,
		Gamma: req.StretchGamma,
	}
	cmd.RemoveSatellites = req.RemoveSatellites

	// Snapshot the camera options the session was started with
	err = h.instance.WithCamera(func(cam camera.Camera) error {
		ids, err := cam.SupportedOptions()
		if err != nil {
			return err
		}
		for _, id := range ids {
			opt, err := cam.GetOption(id)
			if err != nil {
				return err
			}
			cmd.CameraConfig[id] = opt.Current
		}
		return nil
	})
	if err != nil {
		h.writeErrorResponse(w, "Failed to snapshot camera options: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.control.Push(cmd)
	h.logger.Info("Stacking session queued",
		zap.String("session", cmd.SessionID.String()),
		zap.String("name", cmd.Name),
		zap.String("output", cmd.OutputPath))

	h.writeJSONResponse(w, map[string]interface{}{
		"session_id":  cmd.SessionID.String(),
		"output_path": cmd.OutputPath,
	})
}

// HandleAPIStackerControl queues pause/resume/save/cancel commands
func (h *Handlers) HandleAPIStackerControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.control == nil {
		h.writeErrorResponse(w, "Pipeline not running", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Operation string `json:"operation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	op, err := pipeline.ControlOpFromString(req.Operation)
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if op == pipeline.CtlInit {
		h.writeErrorResponse(w, "Use /api/stacker/start to begin a session", http.StatusBadRequest)
		return
	}
	if op == pipeline.CtlUpdate {
		h.writeErrorResponse(w, "Use /api/stacker/stretch to update display parameters", http.StatusBadRequest)
		return
	}

	h.control.Push(&pipeline.ControlCommand{Op: op})
	h.logger.Info("Stacker control queued", zap.String("op", op.String()))
	h.writeJSONResponse(w, map[string]interface{}{"operation": op.String()})
}

// HandleAPIStackerStretch queues a display stretch update
func (h *Handlers) HandleAPIStackerStretch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.control == nil {
		h.writeErrorResponse(w, "Pipeline not running", http.StatusServiceUnavailable)
		return
	}

	var stretch pipeline.StretchParams
	if err := json.NewDecoder(r.Body).Decode(&stretch); err != nil {
		h.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.control.Push(&pipeline.ControlCommand{Op: pipeline.CtlUpdate, Stretch: stretch})
	h.writeJSONResponse(w, stretch)
}

// HandleAPIStackerStatus reports the latest stacking stats
func (h *Handlers) HandleAPIStackerStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{}

	if h.hub != nil {
		if stats := h.hub.LastStats(); stats != nil {
			status["stats"] = stats
		}
	}
	if h.depths != nil {
		status["queues"] = h.depths()
	}
	if h.preview != nil {
		_, seq := h.preview.Current()
		status["preview_frames"] = seq
		status["stretch"] = h.preview.Stretch()
	}

	h.writeJSONResponse(w, status)
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]interface{}{
			"web_server": "running",
		},
	}

	services := health["services"].(map[string]interface{})
	if h.registry != nil {
		services["driver_registry"] = fmt.Sprintf("running (%d drivers)", len(h.registry.Drivers()))
	}
	if h.instance != nil {
		if _, err := h.instance.StreamFormat(); err == nil {
			services["stream"] = "running"
		} else {
			services["stream"] = "stopped"
		}
	}

	h.writeJSONResponse(w, health)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	json.NewEncoder(w).Encode(errorResponse)
}
