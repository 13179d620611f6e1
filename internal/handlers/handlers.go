package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/sar-colorize/internal/imageproc"
	"github.com/Brownie44l1/sar-colorize/internal/pipeline"
)

const paletteSize = 5

type Handler struct {
	pipeline  *pipeline.Pipeline
	maxUpload int64
	log       *logrus.Entry
}

func NewHandler(p *pipeline.Pipeline, maxUploadMB int64, log *logrus.Entry) *Handler {
	return &Handler{
		pipeline:  p,
		maxUpload: maxUploadMB << 20,
		log:       log.WithField("component", "http"),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"pipeline": h.pipeline.State().String(),
		"classes":  h.pipeline.Vocabulary().Names(),
	})
}

// Colorize accepts a multipart upload in the "image" field.
func (h *Handler) Colorize(c *gin.Context) {
	requestID := uuid.NewString()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	file, header, err := c.Request.FormFile("image")
	if h.tooLarge(c, requestID, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ColorizeResponse{
			RequestID: requestID,
			Status:    "❌ Error: no image file provided. Use 'image' as the form field name",
		})
		return
	}
	defer file.Close()

	log := h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"filename":   header.Filename,
		"size":       header.Size,
	})
	log.Debug("Received file")

	img, format, err := imageproc.Decode(file)
	if err != nil {
		h.respond(c, log, requestID, nil, err)
		return
	}
	log.WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("Decoded image")

	h.run(c, log, requestID, img)
}

// ColorizeArray accepts a raw HWC pixel array as JSON.
func (h *Handler) ColorizeArray(c *gin.Context) {
	requestID := uuid.NewString()
	log := h.log.WithField("request_id", requestID)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	var req ColorizeArrayRequest
	err := c.ShouldBindJSON(&req)
	if h.tooLarge(c, requestID, err) {
		return
	}
	if err != nil {
		h.respond(c, log, requestID, nil, fmt.Errorf("%w: %v", pipeline.ErrInputDecode, err))
		return
	}

	pix := make([]uint8, len(req.Pixels))
	for i, v := range req.Pixels {
		if v < 0 || v > 255 {
			h.respond(c, log, requestID, nil,
				fmt.Errorf("%w: pixel %d value %d outside [0,255]", pipeline.ErrInputDecode, i, v))
			return
		}
		pix[i] = uint8(v)
	}

	img, err := imageproc.FromHWC(pix, req.Height, req.Width, req.Channels)
	if err != nil {
		h.respond(c, log, requestID, nil, err)
		return
	}
	h.run(c, log, requestID, img)
}

// tooLarge answers 413 when err came from the upload limit.
func (h *Handler) tooLarge(c *gin.Context, requestID string, err error) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"limit":      mbe.Limit,
	}).Warn("Upload rejected")
	c.JSON(http.StatusRequestEntityTooLarge, ColorizeResponse{
		RequestID: requestID,
		Status:    fmt.Sprintf("❌ Error: upload exceeds the %d MB limit", mbe.Limit>>20),
	})
	return true
}

func (h *Handler) run(c *gin.Context, log *logrus.Entry, requestID string, img image.Image) {
	start := time.Now()
	res, err := h.pipeline.Run(img)
	log = log.WithField("duration", time.Since(start).String())
	h.respond(c, log, requestID, res, err)
}

func (h *Handler) respond(c *gin.Context, log *logrus.Entry, requestID string, res *pipeline.Result, err error) {
	resp := ColorizeResponse{
		RequestID: requestID,
		Status:    pipeline.Status(res, err),
	}
	if err != nil {
		code := statusCode(err)
		log.WithError(err).WithField("code", code).Warn("Colorization failed")
		c.JSON(code, resp)
		return
	}

	encoded, encErr := dataURL(res.Image)
	if encErr != nil {
		log.WithError(encErr).Error("Failed to encode result")
		c.JSON(http.StatusInternalServerError, ColorizeResponse{
			RequestID: requestID,
			Status:    pipeline.Status(nil, encErr),
		})
		return
	}

	resp.Terrain = res.Terrain.String()
	resp.Image = encoded
	resp.Scores = h.pipeline.Confidences(res)
	resp.Palette = imageproc.Palette(res.Image, paletteSize)

	log.WithField("terrain", resp.Terrain).Info("Colorized image")
	c.JSON(http.StatusOK, resp)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrInputDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func dataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
