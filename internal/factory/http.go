package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/gin-gonic/gin"

	"github.com/ChonangRai/tool-factory/internal/editor"
	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pages"
	"github.com/ChonangRai/tool-factory/internal/pdf"
	"github.com/ChonangRai/tool-factory/internal/session"
)

// JobStager は非同期ジョブの入力を保存します。export.Service が実装します。
type JobStager interface {
	PrepareJob(ctx context.Context, op export.OperationType, items []pages.Item) (*export.JobManifest, error)
	DiscardJob(jobID string) error
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
// ジョブは workspaceID の作業セットに結び付けられます。
type JobScheduler interface {
	Schedule(ctx context.Context, op export.OperationType, workspaceID, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Stager              JobStager
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
	// Workspace はリクエストの作業セットIDを返します。nil の場合はセッションから取得します。
	Workspace func(*gin.Context) string
	Logger    *bolt.Logger
}

// Handler は作業セット操作の HTTP ハンドラー群です。
type Handler struct {
	registry *Registry
	opts     HandlerOptions
	logger   *bolt.Logger
}

// NewHandler は Handler を生成します。
func NewHandler(registry *Registry, opts HandlerOptions) *Handler {
	if opts.Workspace == nil {
		opts.Workspace = session.WorkspaceID
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Get()
	}
	return &Handler{registry: registry, opts: opts, logger: logger}
}

// Register はルートを登録します。
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/pages", h.listPages)
	r.POST("/pages", h.uploadPages)
	r.DELETE("/pages", h.resetPages)
	r.POST("/pages/order", h.reorderPages)
	r.POST("/pages/split", h.splitPages)
	r.GET("/pages/:id/thumbnail", h.thumbnail)
	r.POST("/pages/:id/move", h.movePage)
	r.POST("/pages/:id/rotate", h.rotatePage)
	r.DELETE("/pages/:id", h.removePage)
	r.POST("/pages/:id/editor", h.openEditor)

	r.POST("/export/merge", h.exportHandler(export.OperationMerge))
	r.POST("/export/archive", h.exportHandler(export.OperationArchive))

	r.GET("/editor/:sid", h.editorState)
	r.GET("/editor/:sid/background", h.editorBackground)
	r.POST("/editor/:sid/gestures/begin", h.beginGesture)
	r.POST("/editor/:sid/gestures/update", h.updateGesture)
	r.POST("/editor/:sid/gestures/end", h.endGesture)
	r.POST("/editor/:sid/undo", h.undo)
	r.POST("/editor/:sid/save", h.saveEditor)
	r.DELETE("/editor/:sid", h.closeEditor)
}

func (h *Handler) factory(c *gin.Context) (*Factory, bool) {
	id := h.opts.Workspace(c)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "SESSION_REQUIRED",
			"message": "セッションが確立されていません。",
		})
		return nil, false
	}
	return h.registry.Get(id), true
}

func (h *Handler) listPages(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": f.Items()})
}

func (h *Handler) uploadPages(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pdf.CodeInvalidInput,
			"message": "multipart/form-data でPDFファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	uploads, err := readUploads(headers, f.opts.MaxFileSize)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := f.Upload(c.Request.Context(), uploads)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if len(result.Items) == 0 && len(result.Rejected) > 0 {
		first := result.Rejected[0]
		respondWithError(c, pdf.NewError(first.Code, first.Message, nil))
		return
	}
	c.JSON(http.StatusCreated, result)
}

// readUploads はアップロードファイルを読み込みます。上限を超えるファイルは上限+1バイトまでで打ち切り、Upload 側で拒否させます。
func readUploads(headers []*multipart.FileHeader, maxSize int64) ([]Upload, error) {
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err)
		}
		var r io.Reader = src
		if maxSize > 0 {
			r = io.LimitReader(src, maxSize+1)
		}
		data, err := io.ReadAll(r)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err)
		}
		uploads = append(uploads, Upload{Name: fh.Filename, Data: data})
	}
	return uploads, nil
}

func (h *Handler) resetPages(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	f.Reset()
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *Handler) reorderPages(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pdf.CodeInvalidInput,
			"message": "ids を JSON の文字列配列で指定してください。",
		})
		return
	}
	if err := f.Reorder(req.IDs); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": f.Items()})
}

type moveRequest struct {
	Index *int `json:"index" binding:"required"`
}

func (h *Handler) movePage(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pdf.CodeInvalidInput,
			"message": "index を整数で指定してください。",
		})
		return
	}
	if err := f.Move(c.Param("id"), *req.Index); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": f.Items()})
}

func (h *Handler) rotatePage(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	item, err := f.Rotate(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) removePage(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	if err := f.Remove(c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) splitPages(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	report, err := f.SplitAll(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) thumbnail(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	zoom, err := parseZoom(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	raster, err := f.Thumbnail(c.Request.Context(), c.Param("id"), zoom)
	if err != nil {
		respondWithError(c, err)
		return
	}
	writePNG(c, raster)
}

func parseZoom(c *gin.Context) (float64, error) {
	raw := strings.TrimSpace(c.Query("zoom"))
	if raw == "" {
		return 0, nil
	}
	zoom, err := strconv.ParseFloat(raw, 64)
	if err != nil || zoom <= 0 {
		return 0, pdf.NewInvalidInput("zoom は正の数で指定してください。")
	}
	return zoom, nil
}

func writePNG(c *gin.Context, raster *pdf.Raster) {
	data, err := raster.PNG()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Handler) exportHandler(op export.OperationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := h.factory(c)
		if !ok {
			return
		}
		items := f.Items()
		if len(items) == 0 {
			respondWithError(c, pdf.NewInvalidOperation("出力するページがありません。"))
			return
		}

		if h.shouldProcessAsync(items) {
			h.scheduleExport(c, op, items)
			return
		}

		var (
			out *Export
			err error
		)
		if op == export.OperationArchive {
			out, err = f.Pack(c.Request.Context())
		} else {
			out, err = f.Merge(c.Request.Context())
		}
		if err != nil {
			respondWithError(c, err)
			return
		}
		sendExport(c, out)
	}
}

func (h *Handler) scheduleExport(c *gin.Context, op export.OperationType, items []pages.Item) {
	ctx := c.Request.Context()
	manifest, err := h.opts.Stager.PrepareJob(ctx, op, items)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := h.opts.Scheduler.Schedule(ctx, op, h.opts.Workspace(c), manifest.JobID); err != nil {
		if cleanupErr := h.opts.Stager.DiscardJob(manifest.JobID); cleanupErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
		}
		logging.Apply(h.logger.Error(), logging.Operation(string(op)), logging.JobID(manifest.JobID),
			logging.ErrorField(err)).Msg("failed to schedule export job")
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
}

func (h *Handler) shouldProcessAsync(items []pages.Item) bool {
	if h.opts.Stager == nil || h.opts.Scheduler == nil {
		return false
	}

	if h.opts.AsyncThresholdBytes > 0 {
		var total int64
		for _, it := range items {
			total += int64(it.Size)
		}
		if total > h.opts.AsyncThresholdBytes {
			return true
		}
	}

	if h.opts.AsyncThresholdPages > 0 {
		total := 0
		for _, it := range items {
			total += it.Pages
		}
		if total > h.opts.AsyncThresholdPages {
			return true
		}
	}

	return false
}

func sendExport(c *gin.Context, out *Export) {
	encodedName := url.PathEscape(out.Filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", out.Filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, out.ContentType, out.Data)
}

func (h *Handler) openEditor(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	s, err := f.OpenEditor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	page := s.Geometry().DisplaySize()
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": s.ID(),
		"itemId":    s.ItemID(),
		"width":     page.Width,
		"height":    page.Height,
	})
}

func (h *Handler) withEditor(c *gin.Context) (*Factory, *editor.Session, bool) {
	f, ok := h.factory(c)
	if !ok {
		return nil, nil, false
	}
	s, err := f.Editor(c.Param("sid"))
	if err != nil {
		respondWithError(c, err)
		return nil, nil, false
	}
	return f, s, true
}

func (h *Handler) editorState(c *gin.Context) {
	_, s, ok := h.withEditor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) editorBackground(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	zoom, err := parseZoom(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	raster, err := f.EditorBackground(c.Request.Context(), c.Param("sid"), zoom)
	if err != nil {
		respondWithError(c, err)
		return
	}
	writePNG(c, raster)
}

// gestureRequest はポインタ位置を相対座標(x,y)またはキャンバス上のピクセル座標で受け取ります。
type gestureRequest struct {
	Tool         editor.Tool `json:"tool"`
	X            *float64    `json:"x"`
	Y            *float64    `json:"y"`
	PixelX       *float64    `json:"pixelX"`
	PixelY       *float64    `json:"pixelY"`
	CanvasWidth  float64     `json:"canvasWidth"`
	CanvasHeight float64     `json:"canvasHeight"`
	Text         string      `json:"text"`
	FontSize     float64     `json:"fontSize"`
}

func (r gestureRequest) position() (pdf.Ratio, error) {
	switch {
	case r.X != nil && r.Y != nil:
		return pdf.ClampRatio(pdf.Ratio{X: *r.X, Y: *r.Y}), nil
	case r.PixelX != nil && r.PixelY != nil:
		if r.CanvasWidth <= 0 || r.CanvasHeight <= 0 {
			return pdf.Ratio{}, pdf.NewInvalidInput("canvasWidth と canvasHeight を指定してください。")
		}
		return pdf.CanvasPixelToRatio(pdf.Point{X: *r.PixelX, Y: *r.PixelY}, r.CanvasWidth, r.CanvasHeight), nil
	default:
		return pdf.Ratio{}, pdf.NewInvalidInput("位置(x,y または pixelX,pixelY)を指定してください。")
	}
}

func bindGesture(c *gin.Context) (gestureRequest, pdf.Ratio, bool) {
	var req gestureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, pdf.NewInvalidInput("ジェスチャーを JSON で送ってください。"))
		return req, pdf.Ratio{}, false
	}
	pos, err := req.position()
	if err != nil {
		respondWithError(c, err)
		return req, pdf.Ratio{}, false
	}
	return req, pos, true
}

func (h *Handler) beginGesture(c *gin.Context) {
	_, s, ok := h.withEditor(c)
	if !ok {
		return
	}
	req, pos, ok := bindGesture(c)
	if !ok {
		return
	}
	if err := s.BeginGesture(req.Tool, pos, req.Text, req.FontSize); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) updateGesture(c *gin.Context) {
	_, s, ok := h.withEditor(c)
	if !ok {
		return
	}
	_, pos, ok := bindGesture(c)
	if !ok {
		return
	}
	if err := s.UpdateGesture(pos); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) endGesture(c *gin.Context) {
	_, s, ok := h.withEditor(c)
	if !ok {
		return
	}
	committed, err := s.EndGesture()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"committed": committed, "session": s.Snapshot()})
}

func (h *Handler) undo(c *gin.Context) {
	_, s, ok := h.withEditor(c)
	if !ok {
		return
	}
	if err := s.Undo(); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) saveEditor(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	item, err := f.SaveEditor(c.Request.Context(), c.Param("sid"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) closeEditor(c *gin.Context) {
	f, ok := h.factory(c)
	if !ok {
		return
	}
	if err := f.CloseEditor(c.Param("sid")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var statusByCode = map[string]int{
	pdf.CodeDecode:           http.StatusUnprocessableEntity,
	pdf.CodeInvalidOperation: http.StatusConflict,
	pdf.CodeNotFound:         http.StatusNotFound,
	pdf.CodeInvalidInput:     http.StatusBadRequest,
	pdf.CodeLimitExceeded:    http.StatusRequestEntityTooLarge,
	pdf.CodeUnsupportedType:  http.StatusUnsupportedMediaType,
	CodeBusy:                 http.StatusServiceUnavailable,
}

// StatusFor はエラーコードに対応する HTTP ステータスを返します。
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusBadRequest
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *pdf.Error
	switch {
	case errors.As(err, &apiErr):
		body := gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}
		if apiErr.ItemID != "" {
			body["itemId"] = apiErr.ItemID
		}
		c.AbortWithStatusJSON(StatusFor(apiErr.Code), body)
	case errors.Is(err, context.Canceled):
		c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
