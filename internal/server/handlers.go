package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"

	"trafficlens/internal/archive"
	"trafficlens/internal/classify"
	"trafficlens/internal/config"
	"trafficlens/internal/datasource/httpds"
	"trafficlens/internal/engine"
	"trafficlens/internal/infer"
	"trafficlens/internal/report"
)

type handler struct {
	session *engine.Session
	archive archive.Archiver
	fetcher *httpds.Client
}

func (h *handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "trafficlens",
	})
}

// ingest reads the request body (or fetches ?url=) and replaces the
// session's dataset. Mapping overrides arrive as query params so the body
// stays raw data.
func (h *handler) ingest(c *fiber.Ctx) error {
	var src io.Reader = bytes.NewReader(c.Body())
	if url := c.Query("url"); url != "" {
		rc, err := h.fetcher.Open(c.Context(), url)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("fetch %s: %v", url, err))
		}
		defer rc.Close()
		src = rc
	}

	opts := engine.IngestOptions{
		Format:  engine.Format(c.Query("format")),
		Mapping: mappingFromQuery(c),
	}
	if comma := c.Query("delimiter"); comma != "" {
		opts.CSV = config.Options{"comma": comma}
	}

	summary, err := h.session.Ingest(c.Context(), src, opts)
	if errors.Is(err, engine.ErrSuperseded) {
		return fiber.NewError(fiber.StatusConflict, "superseded by a newer ingestion")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
	})
}

func (h *handler) clearDataset(c *fiber.Ctx) error {
	h.session.Clear()
	return c.JSON(fiber.Map{"success": true})
}

func (h *handler) schema(c *fiber.Ctx) error {
	profiles := h.session.Schema()
	if profiles == nil {
		return fiber.NewError(fiber.StatusNotFound, "no dataset loaded")
	}
	mapping, _ := h.session.Mapping()
	return c.JSON(fiber.Map{
		"success": true,
		"columns": profiles,
		"mapping": mapping,
	})
}

func (h *handler) routes(c *fiber.Ctx) error {
	buckets := h.session.Routes()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    buckets,
		"count":   len(buckets),
	})
}

func (h *handler) timeSeries(c *fiber.Ctx) error {
	buckets := h.session.TimeSeries()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    buckets,
		"count":   len(buckets),
	})
}

func (h *handler) classification(c *fiber.Ctx) error {
	preds := h.session.Predictions()
	return c.JSON(fiber.Map{
		"success":      true,
		"data":         preds,
		"distribution": classify.Distribution(preds),
	})
}

func (h *handler) recommendations(c *fiber.Ctx) error {
	top := c.QueryInt("top", 0)
	recs := h.session.Recommendations(top)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    recs,
	})
}

func (h *handler) markers(c *fiber.Ctx) error {
	markers := h.session.Markers()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    markers,
		"count":   len(markers),
	})
}

func (h *handler) export(c *fiber.Ctx) error {
	doc, err := h.session.Export()
	if errors.Is(err, engine.ErrNoDataset) {
		return fiber.NewError(fiber.StatusNotFound, "no dataset loaded")
	}
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

func (h *handler) charts(c *fiber.Ctx) error {
	doc, err := h.session.Export()
	if errors.Is(err, engine.ErrNoDataset) {
		return fiber.NewError(fiber.StatusNotFound, "no dataset loaded")
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.RenderDashboard(&buf, doc); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("render dashboard: %v", err))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

func (h *handler) archiveSave(c *fiber.Ctx) error {
	if h.archive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "archive not configured")
	}
	doc, err := h.session.Export()
	if errors.Is(err, engine.ErrNoDataset) {
		return fiber.NewError(fiber.StatusNotFound, "no dataset loaded")
	}
	if err != nil {
		return err
	}
	if err := h.archive.Save(c.Context(), doc); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("archive save: %v", err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":       true,
		"generation_id": doc.Meta.GenerationID,
	})
}

func (h *handler) archiveList(c *fiber.Ctx) error {
	if h.archive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "archive not configured")
	}
	entries, err := h.archive.List(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("archive list: %v", err))
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

func (h *handler) archiveLoad(c *fiber.Ctx) error {
	if h.archive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "archive not configured")
	}
	doc, err := h.archive.Load(c.Context(), c.Params("id"))
	var nf *archive.NotFoundError
	if errors.As(err, &nf) {
		return fiber.NewError(fiber.StatusNotFound, nf.Error())
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("archive load: %v", err))
	}
	return c.JSON(doc)
}

// mappingFromQuery builds a mapping override from query params; nil when no
// override was given.
func mappingFromQuery(c *fiber.Ctx) *infer.Mapping {
	m := infer.Mapping{
		RouteCol: c.Query("route_col"),
		TimeCol:  c.Query("time_col"),
		ValueCol: c.Query("value_col"),
		LatCol:   c.Query("lat_col"),
		LngCol:   c.Query("lng_col"),
	}
	if m == (infer.Mapping{}) {
		return nil
	}
	return &m
}
