package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medscan/internal/app"
	"medscan/internal/transport/http/middleware"
	"medscan/internal/transport/http/response"
	"medscan/pkg/failure"
	"medscan/pkg/predict"
)

const maxUploadBytes = 20 << 20

type PredictionService interface {
	Predict(ctx context.Context, input app.PredictInput) (*app.PredictOutput, error)
	ListPredictions(ctx context.Context, userID uint, limit int) ([]predict.Record, error)
}

type PredictionHandler struct {
	predictions PredictionService
	logger      *zap.Logger
}

func NewPredictionHandler(predictions PredictionService, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{predictions: predictions, logger: logger}
}

// Predict answers in the inference API's own shape so the same client can
// talk to the upstream service or to this gateway.
func (h *PredictionHandler) Predict(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.PredictError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	modelType, err := predict.ParseModelType(c.Query("model_type"))
	if err != nil {
		response.PredictError(c, http.StatusBadRequest, "Invalid model type")
		return
	}

	filename, data, err := readUpload(c)
	if err != nil {
		response.PredictError(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.predictions.Predict(c.Request.Context(), app.PredictInput{
		UserID:    userID,
		ModelType: modelType,
		Filename:  filename,
		Data:      data,
	})
	if err != nil {
		if msg, ok := predict.IsBadRequest(err); ok {
			response.PredictError(c, http.StatusBadRequest, msg)
			return
		}
		if failure.KindOf(err) == failure.KindValidation || errors.Is(err, app.ErrInvalidInput) {
			response.PredictError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Warn("prediction failed",
			zap.Uint("user_id", userID),
			zap.String("model_type", string(modelType)),
			zap.Error(err),
		)
		response.PredictError(c, http.StatusBadGateway, "inference service unavailable")
		return
	}

	body := gin.H{
		"prediction":       out.Result.Label,
		"confidence_score": out.Result.ConfidenceScore,
	}
	if out.Record != nil {
		body["record_id"] = out.Record.ID
		body["image_url"] = out.Record.ImageURL
	}
	c.JSON(http.StatusOK, body)
}

func (h *PredictionHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.predictions.ListPredictions(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list predictions failed", zap.Uint("user_id", userID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list predictions failed")
		return
	}
	if records == nil {
		records = []predict.Record{}
	}
	response.OK(c, gin.H{"items": records})
}

func readUpload(c *gin.Context) (string, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		return "", nil, errors.New("No file uploaded")
	}
	f, err := header.Open()
	if err != nil {
		return "", nil, errors.New("cannot read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, errors.New("cannot read uploaded file")
	}
	if len(data) == 0 {
		return "", nil, errors.New("uploaded file is empty")
	}
	return header.Filename, data, nil
}
