package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/recorder"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/viewer"
)

// maxFormBytes bounds non-upload request bodies.
const maxFormBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// writeError maps controller errors to HTTP statuses. Anything not
// recognised came from the backend.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, viewer.ErrNotConfirmed):
		httputil.WriteJSONError(w, http.StatusPreconditionRequired, err.Error())
	case errors.Is(err, errBadRequest),
		errors.Is(err, viewer.ErrInvalidInput),
		errors.Is(err, viewer.ErrInvalidUpload),
		errors.Is(err, simapi.ErrEmptyForm),
		errors.Is(err, simapi.ErrInvalidForm):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, viewer.ErrClosed),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNotRecording):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, viewer.ErrUnknownParticle),
		errors.Is(err, viewer.ErrNoRecorder),
		errors.Is(err, recorder.ErrUnknownSession):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, viewer.ErrStopped),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		httputil.BadGateway(w, err.Error())
	}
}

func writeOK(w http.ResponseWriter) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// formValues flattens the query string and the url-encoded or JSON body
// into one map. Body values win.
func formValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	out := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		for k, v := range body {
			switch t := v.(type) {
			case nil:
			case string:
				out[k] = t
			case float64:
				out[k] = strconv.FormatFloat(t, 'g', -1, 64)
			default:
				out[k] = fmt.Sprint(t)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func confirmed(form map[string]string) bool {
	b, err := strconv.ParseBool(form["confirm"])
	return err == nil && b
}

func intField(form map[string]string, key string) (int, error) {
	v := strings.TrimSpace(form[key])
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", errBadRequest, key, v)
	}
	return n, nil
}

func floatField(form map[string]string, key string) (float64, error) {
	v := strings.TrimSpace(form[key])
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", errBadRequest, key, v)
	}
	return f, nil
}

// formHandler adapts a command taking the request form.
func (s *Server) formHandler(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, form map[string]string) error) {
	form, err := formValues(w, r)
	if err == nil {
		err = fn(r.Context(), form)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.ctrl.Snapshot())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, s.ctrl.SubmitSettings)
}

func (s *Server) handleBox(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, s.ctrl.SubmitBox)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, s.ctrl.SetRender)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, s.ctrl.SetScale)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.TogglePause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		seconds, err := floatField(form, "rewind_time")
		if err != nil {
			return err
		}
		return s.ctrl.Rewind(ctx, seconds)
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		return s.ctrl.Reset(ctx, confirmed(form))
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		return s.ctrl.Close(ctx, confirmed(form))
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("missing file: %v", err))
			return
		}
		defer f.Close()
		body = f
	}
	if err := s.ctrl.Upload(r.Context(), body); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": s.ctrl.Snapshot().UploadStatus})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dw := &deferredWriter{w: w, onFirstWrite: func() {
		httputil.Attachment(w, "particles.json", "application/json")
	}}
	if err := s.ctrl.Download(r.Context(), dw); err != nil && !dw.started {
		writeError(w, err)
	}
}

func (s *Server) handleScaleToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.ctrl.ToggleScale(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"scale_enabled": enabled})
}

func (s *Server) handleHide(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		id, err := intField(form, "id")
		if err != nil {
			return err
		}
		return s.ctrl.Hide(ctx, id)
	})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		if all, _ := strconv.ParseBool(form["all"]); all {
			return s.ctrl.ShowAll(ctx)
		}
		id, err := intField(form, "id")
		if err != nil {
			return err
		}
		return s.ctrl.Show(ctx, id)
	})
}

func (s *Server) handleParticles(w http.ResponseWriter, r *http.Request) {
	rows, err := s.ctrl.VisibleRows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []simapi.Particle{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) handleParticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid particle id")
		return
	}
	p, found, err := s.ctrl.Particle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, viewer.ErrUnknownParticle.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"particle": p,
		"info":     projection.Info(p),
	})
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if form["action"] == "clear" {
		if err := s.ctrl.ClearSelection(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
		return
	}
	x, err := floatField(form, "x")
	if err != nil {
		writeError(w, err)
		return
	}
	y, err := floatField(form, "y")
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		id  int
		hit bool
	)
	switch form["action"] {
	case "", "hover":
		id, hit, err = s.ctrl.Hover(r.Context(), x, y)
	case "select":
		id, hit, err = s.ctrl.Select(r.Context(), x, y)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown pick action %q", form["action"]))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"hit": hit}
	if hit {
		resp["id"] = id
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		id, err := intField(form, "id")
		if err != nil {
			return err
		}
		return s.ctrl.SelectID(ctx, id)
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	recording, err := s.ctrl.ToggleRecording(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"recording": recording})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, viewer.ErrNoRecorder)
		return
	}
	sessions, err := s.store.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []recorder.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) handleRecordingExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, viewer.ErrNoRecorder)
		return
	}
	id := r.PathValue("id")
	dw := &deferredWriter{w: w, onFirstWrite: func() {
		httputil.Attachment(w, "recording-"+id+".db", "application/octet-stream")
	}}
	if err := s.store.Export(r.Context(), id, dw); err != nil {
		if dw.started {
			logf("export %s failed mid-stream: %v", id, err)
			return
		}
		writeError(w, err)
	}
}

// deferredWriter sets the download headers on the first write, so errors
// raised before any output still get a JSON response.
type deferredWriter struct {
	w            io.Writer
	onFirstWrite func()
	started      bool
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.onFirstWrite()
	}
	return d.w.Write(p)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f := s.ctrl.Loop().Latest()
	if f == nil {
		f = &scene.RenderFrame{
			Time:   time.Now(),
			View:   s.ctrl.Scene().Snapshot(),
			Camera: s.ctrl.Scene().Camera().State(),
		}
	}
	png, err := scene.Rasterize(f)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	s.formHandler(w, r, func(ctx context.Context, form map[string]string) error {
		width, err := intField(form, "width")
		if err != nil {
			return err
		}
		height, err := intField(form, "height")
		if err != nil {
			return err
		}
		return s.ctrl.Resize(width, height)
	})
}

// handleCamera steers the orbit camera: rotate_theta and rotate_phi in
// radians, zoom as a distance factor.
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cam := s.ctrl.Scene().Camera()
	var dTheta, dPhi float64
	if _, set := form["rotate_theta"]; set {
		if dTheta, err = floatField(form, "rotate_theta"); err != nil {
			writeError(w, err)
			return
		}
	}
	if _, set := form["rotate_phi"]; set {
		if dPhi, err = floatField(form, "rotate_phi"); err != nil {
			writeError(w, err)
			return
		}
	}
	if dTheta != 0 || dPhi != 0 {
		cam.Rotate(dTheta, dPhi)
	}
	if _, set := form["zoom"]; set {
		factor, err := floatField(form, "zoom")
		if err != nil || factor <= 0 {
			httputil.BadRequest(w, "zoom must be a positive factor")
			return
		}
		cam.Zoom(factor)
	}
	st := cam.State()
	httputil.WriteJSONOK(w, CameraMessage{
		Position: vec3(st.Position),
		Target:   vec3(st.Target),
		FOV:      st.FOV,
		Width:    st.Width,
		Height:   st.Height,
	})
}

func (s *Server) handleGUI(w http.ResponseWriter, r *http.Request) {
	visible, err := s.ctrl.ToggleGUI(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"gui_visible": visible})
}
