package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/detector"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Form fields accepted by /upload.
const (
	formFile     = "file"
	formImageURL = "image_url"
)

// DetectionResponse is the body returned for a detection pass.
type DetectionResponse struct {
	Detections    []detector.Detection `json:"detections"`
	StatusUlat    string               `json:"status_ulat"`
	PhotoDetected string               `json:"photo_detected"`
	Date          string               `json:"date,omitempty"`
	Time          string               `json:"time,omitempty"`
}

// NewDetectionResponse renders a result the way /upload returns it.
func NewDetectionResponse(res *analysis.Result) DetectionResponse {
	dets := res.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	out := DetectionResponse{
		Detections:    dets,
		StatusUlat:    res.PestFlag(),
		PhotoDetected: res.PhotoURL,
	}
	if res.Record != nil {
		out.Date, out.Time = res.Record.Date, res.Record.Time
	}
	return out
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version,omitempty"`
	Uptime        string                      `json:"uptime"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Timestamp     string                      `json:"timestamp"`
	Detector      string                      `json:"detector"`
	RecordStore   bool                        `json:"record_store"`
	Disks         []diskmanager.DiskSpaceInfo `json:"disks,omitempty"`
}

// root handles GET /.
func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": s.config.Banner})
}

// upload handles POST /upload. A multipart "file" wins over "image_url".
func (s *Server) upload(c echo.Context) error {
	if s.processor == nil {
		return unavailable("detection pipeline is not configured")
	}
	ctx := c.Request().Context()
	base := s.baseURL(c)

	fh, err := c.FormFile(formFile)
	if err == nil {
		f, err := fh.Open()
		if err != nil {
			return validation("cannot read uploaded file: %v", err)
		}
		defer func() { _ = f.Close() }()
		res, err := s.processor.ProcessUpload(ctx, f, base)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, NewDetectionResponse(res))
	}

	source := c.FormValue(formImageURL)
	if source == "" {
		return validation("no file or %s provided", formImageURL)
	}
	res, err := s.processor.ProcessSource(ctx, source, base)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewDetectionResponse(res))
}

// detectLatestImage handles GET /detect_latest_image.
func (s *Server) detectLatestImage(c echo.Context) error {
	if s.records == nil || s.processor == nil {
		return unavailable("record store is not configured")
	}
	ctx := c.Request().Context()

	rec, err := s.records.Latest(ctx)
	if err != nil {
		return err
	}
	res, err := s.processor.DetectRecord(ctx, rec, s.baseURL(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewDetectionResponse(res))
}

// healthCheck handles the server health check endpoint. An unreachable
// detector reports 503.
func (s *Server) healthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	uptime := time.Since(s.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Version:       s.config.Version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Detector:      "unconfigured",
		RecordStore:   s.records != nil,
	}

	status := http.StatusOK
	if s.processor != nil {
		resp.Detector = "reachable"
		if !s.processor.Detector().Healthy(ctx) {
			resp.Detector = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if s.disk != nil {
		disks, err := s.disk.Usage(ctx, s.settings.Storage.UploadDir, s.settings.Storage.OutputDir)
		if err != nil {
			s.log.Warn("disk usage check failed", logger.Error(err))
		}
		resp.Disks = disks
	}

	return c.JSON(status, resp)
}

// baseURL is the origin photo URLs are built from.
func (s *Server) baseURL(c echo.Context) string {
	if s.config.PublicURL != "" {
		return s.config.PublicURL
	}
	return c.Scheme() + "://" + c.Request().Host
}

func validation(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

func unavailable(msg string) error {
	return errors.Newf("%s", msg).
		Component("api").
		Category(errors.CategoryUnavailable).
		Build()
}
